package profile

// Profile is the structured view of the learner assembled from flat
// storage keys. JSON field names line up with the dot-notation keys
// the PATCH endpoint accepts.
type Profile struct {
	Learner LearnerProfile `json:"learner"`
	Study   StudyProfile   `json:"study"`
	Routing RoutingProfile `json:"routing"`
}

// LearnerProfile identifies who is being tutored.
type LearnerProfile struct {
	Name       string   `json:"name"`
	GradeLevel string   `json:"grade_level"`
	Subjects   []string `json:"subjects"`
}

// StudyProfile captures how the learner wants material presented.
type StudyProfile struct {
	ExplanationStyle string `json:"explanation_style"` // e.g. "step by step, with analogies"
	Language         string `json:"language"`          // e.g. "en"
	SessionLength    string `json:"session_length"`    // e.g. "25m"
}

// RoutingProfile carries the knobs the router samples per request.
type RoutingProfile struct {
	CostPreference string `json:"cost_preference"` // "quality", "balanced", "cost"
}
