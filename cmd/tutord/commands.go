package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/tutord/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message through the provider router",
	Long: `Send a tutoring message through the provider router and stream the
reply to stdout.

Examples:
  tutord chat "Explain photosynthesis in one paragraph"
  tutord chat --system "Answer in Spanish" "What is a derivative?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		system, _ := cmd.Flags().GetString("system")
		model, _ := cmd.Flags().GetString("model")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")

		var messages []map[string]string
		if system != "" {
			messages = append(messages, map[string]string{"role": "system", "content": system})
		}
		messages = append(messages, map[string]string{"role": "user", "content": message})

		req := map[string]any{
			"messages": messages,
			"stream":   true,
		}
		if model != "" {
			req["model"] = model
		}
		if maxTokens > 0 {
			req["max_tokens"] = maxTokens
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := client.stream(cmd.Context(), "/v1/chat/completions", req, printChatDelta); err != nil {
			return err
		}
		fmt.Println()
		return nil
	},
}

func init() {
	chatCmd.Flags().String("system", "", "system prompt")
	chatCmd.Flags().String("model", "", "model override for the chosen provider")
	chatCmd.Flags().Int("max-tokens", 0, "response token cap (0 = provider default)")
}

// streamChunk is the slice of a streamed completion chunk the CLI
// renders. Error payloads ride the same data lines.
type streamChunk struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func printChatDelta(data []byte) error {
	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil
	}
	if chunk.Error != nil {
		return fmt.Errorf("stream error: %s", chunk.Error.Message)
	}
	for _, c := range chunk.Choices {
		fmt.Print(c.Delta.Content)
	}
	return nil
}

// --- route ---

var routeCmd = &cobra.Command{
	Use:   "route <message>",
	Short: "Explain how a message would route, without calling a provider",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/route?q="+url.QueryEscape(query))
		if err != nil {
			return err
		}

		var view struct {
			Category       string   `json:"category"`
			DeviceTier     string   `json:"device_tier"`
			Network        string   `json:"network"`
			CostPreference string   `json:"cost_preference"`
			Candidates     []string `json:"candidates"`
			Provider       string   `json:"provider"`
		}
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}

		printStatus("Category", "%s", view.Category)
		printStatus("Device tier", "%s", view.DeviceTier)
		printStatus("Network", "%s", view.Network)
		printStatus("Cost preference", "%s", view.CostPreference)
		printStatus("Candidates", "%s", strings.Join(view.Candidates, " > "))
		if view.Provider != "" {
			printStatus("Provider", "%s", view.Provider)
		} else {
			printWarning("no registered provider matches this route")
		}
		return nil
	},
}

// --- decisions ---

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List recent routing decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/decisions?limit=%d", limit))
		if err != nil {
			return err
		}

		var rows []struct {
			ID         string `json:"id"`
			CreatedAt  string `json:"created_at"`
			Category   string `json:"category"`
			Provider   string `json:"provider"`
			TTFTMillis int64  `json:"ttft_ms"`
			Status     string `json:"status"`
		}
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}

		if len(rows) == 0 {
			fmt.Println("No decisions recorded.")
			return nil
		}

		for _, d := range rows {
			fmt.Printf("%s  %s  %-12s  %-10s  %s\n",
				colorize(colorCyan, d.ID[:8]),
				d.CreatedAt,
				d.Category,
				d.Provider,
				decisionLabel(d.Status, d.TTFTMillis),
			)
		}
		return nil
	},
}

func init() {
	decisionsCmd.Flags().Int("limit", 20, "maximum number of decisions to list")
}

// decisionLabel shows latency for successful sends and the status for
// everything else.
func decisionLabel(status string, ttftMillis int64) string {
	if status == "ok" {
		return fmt.Sprintf("%dms", ttftMillis)
	}
	return colorize(colorRed, status)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage on-device models",
}

// modelRow mirrors what the model endpoints return.
type modelRow struct {
	Spec struct {
		Name        string `json:"name"`
		SizeBytes   int64  `json:"size_bytes"`
		MinRAMMB    int    `json:"min_ram_mb"`
		ContextSize int    `json:"context_size"`
	} `json:"spec"`
	State struct {
		Phase         string `json:"phase"`
		Percent       int    `json:"percent"`
		ReceivedBytes int64  `json:"received_bytes"`
		TotalBytes    int64  `json:"total_bytes"`
		Error         string `json:"error"`
	} `json:"state"`
	Downloaded bool `json:"downloaded"`
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog models and their local state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/models")
		if err != nil {
			return err
		}

		var list struct {
			Data []modelRow `json:"data"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		for _, m := range list.Data {
			fmt.Printf("%-28s  %8s  %s\n",
				colorize(colorBold, m.Spec.Name),
				humanSize(m.Spec.SizeBytes),
				modelStateLabel(m),
			)
		}
		return nil
	},
}

var modelsStatusCmd = &cobra.Command{
	Use:   "status <model>",
	Short: "Show one model's catalog entry and download state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/models/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var m modelRow
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}

		printStatus("Model", "%s", m.Spec.Name)
		printStatus("Size", "%s", humanSize(m.Spec.SizeBytes))
		printStatus("Min RAM", "%d MB", m.Spec.MinRAMMB)
		printStatus("Context", "%d tokens", m.Spec.ContextSize)
		printStatus("State", "%s", modelStateLabel(m))
		if m.State.Phase == "downloading" && m.State.TotalBytes > 0 {
			printStatus("Progress", "%s of %s", humanSize(m.State.ReceivedBytes), humanSize(m.State.TotalBytes))
		}
		return nil
	},
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download <model>",
	Short: "Queue a model download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/models/"+url.PathEscape(args[0])+"/download", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result["status"] == "complete" {
			printSuccess("%s is already downloaded", args[0])
			return nil
		}
		printStep("Queued download of %s (job %s)", args[0], result["job_id"])

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait {
			return nil
		}
		return waitForDownload(cmd.Context(), client, args[0])
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <model>",
	Short: "Delete a downloaded model file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/models/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var result struct {
			Model   string `json:"model"`
			Deleted bool   `json:"deleted"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Deleted {
			printSuccess("Deleted %s", args[0])
		} else {
			printWarning("%s was not downloaded", args[0])
		}
		return nil
	},
}

func init() {
	modelsDownloadCmd.Flags().Bool("wait", false, "poll until the download finishes")
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsStatusCmd)
	modelsCmd.AddCommand(modelsDownloadCmd)
	modelsCmd.AddCommand(modelsDeleteCmd)
}

// waitForDownload polls the status endpoint until the transfer settles.
func waitForDownload(ctx context.Context, client *apiClient, model string) error {
	lastPercent := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		resp, err := client.get(ctx, "/v1/models/"+url.PathEscape(model))
		if err != nil {
			return err
		}
		var m modelRow
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}

		switch m.State.Phase {
		case "complete":
			printSuccess("%s downloaded", model)
			return nil
		case "error":
			return fmt.Errorf("download failed: %s", m.State.Error)
		case "cancelled":
			return fmt.Errorf("download cancelled")
		case "downloading":
			if m.State.Percent >= 0 && m.State.Percent != lastPercent {
				printStep("downloading %s: %d%%", model, m.State.Percent)
				lastPercent = m.State.Percent
			}
		}
	}
}

func modelStateLabel(m modelRow) string {
	switch m.State.Phase {
	case "downloading":
		if m.State.Percent >= 0 {
			return fmt.Sprintf("downloading %d%%", m.State.Percent)
		}
		return "downloading"
	case "verifying":
		return "verifying"
	case "error":
		return colorize(colorRed, "error: "+m.State.Error)
	case "cancelled":
		return "cancelled"
	}
	if m.Downloaded {
		return colorize(colorGreen, "downloaded")
	}
	return "not downloaded"
}

// humanSize renders a byte count the way model cards do.
func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.0f MB", float64(n)/(1<<20))
	case n > 0:
		return fmt.Sprintf("%d B", n)
	}
	return "-"
}

// --- summarize ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize study material into a compact brief",
	Long: `Summarize study material into a compact brief.

Examples:
  tutord summarize --text "The Krebs cycle is..."
  tutord summarize --url https://example.com/article --focus "key formulas"
  tutord summarize --file ./chapter3.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		urlFlag, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		focus, _ := cmd.Flags().GetString("focus")

		req, err := summarizeRequest(text, urlFlag, file, title, focus)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := client.stream(cmd.Context(), "/v1/summarize", req, printChatDelta); err != nil {
			return err
		}
		fmt.Println()
		return nil
	},
}

func init() {
	summarizeCmd.Flags().String("text", "", "raw text to summarize")
	summarizeCmd.Flags().String("url", "", "URL to fetch and summarize")
	summarizeCmd.Flags().String("file", "", "file to summarize (text, HTML, or PDF)")
	summarizeCmd.Flags().String("title", "", "title for the material")
	summarizeCmd.Flags().String("focus", "", "aspect the summary should concentrate on")
}

// summarizeRequest builds the request body from flag values. File
// content travels base64-encoded so PDFs survive the JSON transport.
func summarizeRequest(text, rawURL, file, title, focus string) (map[string]any, error) {
	if text == "" && rawURL == "" && file == "" {
		return nil, fmt.Errorf("one of --text, --url, or --file is required")
	}

	req := map[string]any{"stream": true}
	if title != "" {
		req["title"] = title
	}
	if focus != "" {
		req["focus"] = focus
	}

	switch {
	case text != "":
		req["type"] = "text"
		req["content"] = text
	case rawURL != "":
		req["type"] = "url"
		req["url"] = rawURL
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		req["type"] = "file"
		req["content"] = base64.StdEncoding.EncodeToString(data)
		if title == "" {
			req["title"] = filepath.Base(file)
		}
	}
	return req, nil
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the learner profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		profile, err := fetchProfile(cmd.Context(), client)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Update one profile field",
	Long: `Set a profile field by its dot-notation key.

Examples:
  tutord profile set learner.name "Maya"
  tutord profile set study.language es
  tutord profile set routing.cost_preference cost`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := patchProfile(cmd.Context(), client, map[string]any{args[0]: args[1]}); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the profile JSON in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		profile, err := fetchProfile(cmd.Context(), client)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}

		tmpFile, err := os.CreateTemp("", "tutord-profile-*.json")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		_, werr := tmpFile.Write(data)
		if cerr := tmpFile.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("writing temp file: %w", werr)
		}

		if err := runEditor(tmpPath); err != nil {
			return err
		}

		edited, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}
		var nested map[string]any
		if err := json.Unmarshal(edited, &nested); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		// The PATCH endpoint takes dot-notation keys, so the nested
		// document flattens before it goes back.
		fields := map[string]any{}
		flattenFields("", nested, fields)

		if err := patchProfile(cmd.Context(), client, fields); err != nil {
			return err
		}
		printSuccess("Profile updated")
		return nil
	},
}

// fetchProfile loads the nested profile document from the daemon.
func fetchProfile(ctx context.Context, client *apiClient) (map[string]any, error) {
	resp, err := client.get(ctx, "/v1/profile")
	if err != nil {
		return nil, err
	}
	var profile map[string]any
	if err := decodeJSON(resp, &profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// patchProfile sends dot-notation fields to the profile endpoint.
func patchProfile(ctx context.Context, client *apiClient, fields map[string]any) error {
	resp, err := client.patch(ctx, "/v1/profile", fields)
	if err != nil {
		return err
	}
	var result map[string]string
	return decodeJSON(resp, &result)
}

// runEditor opens path in $EDITOR, falling back to vi.
func runEditor(path string) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	edit := exec.Command(editor, path)
	edit.Stdin, edit.Stdout, edit.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := edit.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}
	return nil
}

// flattenFields turns nested JSON objects into dot-notation keys.
// Arrays and scalars stay as leaf values.
func flattenFields(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenFields(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileEditCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change daemon settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("%s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s", args[0])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List all configuration keys",
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.ValidKeys() {
			fmt.Println(k)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configKeysCmd)
}
