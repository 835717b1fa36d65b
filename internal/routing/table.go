package routing

import (
	"github.com/kalambet/tutord/internal/classify"
	"github.com/kalambet/tutord/internal/provider"
)

// Table maps a task category and cost preference to an ordered list of
// provider names. Lookups never come back empty: missing categories use
// the fallback order, and an offline filter that strips every candidate
// yields the on-device fallback alone.
type Table struct {
	entries         map[classify.TaskCategory]map[CostPreference][]string
	fallback        []string
	offlineFallback string
}

// NewTable builds the default production table. Heavy reasoning work
// (tutoring, planning, content, assessment) leans on the premium cloud
// providers; light conversational work starts cheaper and closer to the
// device.
func NewTable() *Table {
	t := &Table{
		entries:         make(map[classify.TaskCategory]map[CostPreference][]string),
		fallback:        []string{provider.NameAnthropic, provider.NameOpenAI, provider.NameEdge, provider.NameOnDevice},
		offlineFallback: provider.NameOnDevice,
	}
	for _, cat := range classify.Categories() {
		t.entries[cat] = familyOrders(cat.Family())
	}
	return t
}

func familyOrders(f classify.Family) map[CostPreference][]string {
	switch f {
	case classify.FamilyTutoring, classify.FamilyPlanning, classify.FamilyContent, classify.FamilyAssessment:
		return map[CostPreference][]string{
			PreferQuality:  {provider.NameAnthropic, provider.NameOpenAI, provider.NameEdge, provider.NameOnDevice},
			PreferBalanced: {provider.NameOpenAI, provider.NameAnthropic, provider.NameEdge, provider.NameOnDevice},
			PreferCost:     {provider.NameEdge, provider.NameOnDevice, provider.NameOpenAI, provider.NameAnthropic},
		}
	case classify.FamilySummarization:
		return map[CostPreference][]string{
			PreferQuality:  {provider.NameOpenAI, provider.NameAnthropic, provider.NameEdge, provider.NameOnDevice},
			PreferBalanced: {provider.NameOpenAI, provider.NameEdge, provider.NameOnDevice, provider.NameAnthropic},
			PreferCost:     {provider.NameEdge, provider.NameOnDevice, provider.NameOpenAI, provider.NameAnthropic},
		}
	default: // simple, navigation, meta
		return map[CostPreference][]string{
			PreferQuality:  {provider.NameOpenAI, provider.NameAnthropic, provider.NameEdge, provider.NameOnDevice},
			PreferBalanced: {provider.NameEdge, provider.NameOpenAI, provider.NameOnDevice, provider.NameAnthropic},
			PreferCost:     {provider.NameOnDevice, provider.NameEdge, provider.NameOpenAI, provider.NameAnthropic},
		}
	}
}

// Set replaces the candidate order for one category and preference.
func (t *Table) Set(cat classify.TaskCategory, pref CostPreference, names ...string) {
	if t.entries == nil {
		t.entries = make(map[classify.TaskCategory]map[CostPreference][]string)
	}
	prefs, ok := t.entries[cat]
	if !ok {
		prefs = make(map[CostPreference][]string)
		t.entries[cat] = prefs
	}
	prefs[pref] = names
}

func (t *Table) lookup(cat classify.TaskCategory, pref CostPreference) []string {
	if prefs, ok := t.entries[cat]; ok {
		if names, ok := prefs[pref]; ok && len(names) > 0 {
			return names
		}
		if names, ok := prefs[PreferBalanced]; ok && len(names) > 0 {
			return names
		}
	}
	return t.fallback
}

// Candidates resolves the ordered provider names for a request. isLocal
// reports whether a named provider serves without network access; the
// offline override keeps only those (falling back to the on-device name
// when none remain), and the poor-network override moves them to the
// front without reordering either group.
func (t *Table) Candidates(rc Context, isLocal func(name string) bool) []string {
	base := dedupe(t.lookup(rc.Category, rc.CostPreference))
	if isLocal == nil {
		isLocal = func(string) bool { return false }
	}
	switch rc.NetworkQuality {
	case NetworkOffline:
		var local []string
		for _, name := range base {
			if isLocal(name) {
				local = append(local, name)
			}
		}
		if len(local) == 0 {
			return []string{t.offlineFallback}
		}
		return local
	case NetworkPoor:
		local := make([]string, 0, len(base))
		remote := make([]string, 0, len(base))
		for _, name := range base {
			if isLocal(name) {
				local = append(local, name)
			} else {
				remote = append(remote, name)
			}
		}
		return append(local, remote...)
	default:
		return base
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
