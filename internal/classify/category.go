// Package classify assigns a task category to an outgoing conversation.
//
// Classification is a pure function over the conversation text: the router
// uses the category to look up provider preferences, so the mapping has to be
// deterministic and total. The rules live in ordered tables, not control
// flow, so the policy can be inspected and extended without touching the
// matching loop.
package classify

// Family groups task categories that share routing behavior.
type Family int

const (
	FamilyTutoring Family = iota
	FamilyPlanning
	FamilyContent
	FamilyAssessment
	FamilySummarization
	FamilyNavigation
	FamilySimple
	FamilyMeta
)

func (f Family) String() string {
	switch f {
	case FamilyTutoring:
		return "tutoring"
	case FamilyPlanning:
		return "planning"
	case FamilyContent:
		return "content"
	case FamilyAssessment:
		return "assessment"
	case FamilySummarization:
		return "summarization"
	case FamilyNavigation:
		return "navigation"
	case FamilySimple:
		return "simple"
	case FamilyMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// TaskCategory identifies what kind of request a conversation carries.
// Exactly one category is assigned per request; CategorySimpleResponse is the
// fallback when nothing matches.
type TaskCategory int

const (
	// FamilySimple
	CategorySimpleResponse TaskCategory = iota
	CategoryGreeting
	CategoryAcknowledgement

	// FamilyTutoring
	CategoryConceptExplanation
	CategoryStepByStepWalkthrough
	CategorySocraticGuidance
	CategoryHintRequest
	CategoryMisconceptionCorrection

	// FamilyPlanning
	CategoryStudyPlanCreation
	CategorySessionPlanning
	CategoryGoalSetting

	// FamilyContent
	CategoryLessonGeneration
	CategoryExampleGeneration
	CategoryFlashcardGeneration
	CategoryQuestionGeneration

	// FamilyAssessment
	CategoryQuizGeneration
	CategoryAnswerEvaluation
	CategoryProgressReview
	CategoryKnowledgeCheck

	// FamilySummarization
	CategorySessionSummary
	CategoryDocumentSummary
	CategoryKeyPointExtraction

	// FamilyNavigation
	CategoryTopicSelection
	CategoryCourseNavigation
	CategoryCapabilityInquiry

	// FamilyMeta
	CategoryReflectionPrompt
	CategoryMotivationSupport
	CategoryErrorRecovery
)

var categoryNames = map[TaskCategory]string{
	CategorySimpleResponse:          "simple_response",
	CategoryGreeting:                "greeting",
	CategoryAcknowledgement:         "acknowledgement",
	CategoryConceptExplanation:      "concept_explanation",
	CategoryStepByStepWalkthrough:   "step_by_step_walkthrough",
	CategorySocraticGuidance:        "socratic_guidance",
	CategoryHintRequest:             "hint_request",
	CategoryMisconceptionCorrection: "misconception_correction",
	CategoryStudyPlanCreation:       "study_plan_creation",
	CategorySessionPlanning:         "session_planning",
	CategoryGoalSetting:             "goal_setting",
	CategoryLessonGeneration:        "lesson_generation",
	CategoryExampleGeneration:       "example_generation",
	CategoryFlashcardGeneration:     "flashcard_generation",
	CategoryQuestionGeneration:      "question_generation",
	CategoryQuizGeneration:          "quiz_generation",
	CategoryAnswerEvaluation:        "answer_evaluation",
	CategoryProgressReview:          "progress_review",
	CategoryKnowledgeCheck:          "knowledge_check",
	CategorySessionSummary:          "session_summary",
	CategoryDocumentSummary:         "document_summary",
	CategoryKeyPointExtraction:      "key_point_extraction",
	CategoryTopicSelection:          "topic_selection",
	CategoryCourseNavigation:        "course_navigation",
	CategoryCapabilityInquiry:       "capability_inquiry",
	CategoryReflectionPrompt:        "reflection_prompt",
	CategoryMotivationSupport:       "motivation_support",
	CategoryErrorRecovery:           "error_recovery",
}

func (c TaskCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

var categoryFamilies = map[TaskCategory]Family{
	CategorySimpleResponse:          FamilySimple,
	CategoryGreeting:                FamilySimple,
	CategoryAcknowledgement:         FamilySimple,
	CategoryConceptExplanation:      FamilyTutoring,
	CategoryStepByStepWalkthrough:   FamilyTutoring,
	CategorySocraticGuidance:        FamilyTutoring,
	CategoryHintRequest:             FamilyTutoring,
	CategoryMisconceptionCorrection: FamilyTutoring,
	CategoryStudyPlanCreation:       FamilyPlanning,
	CategorySessionPlanning:         FamilyPlanning,
	CategoryGoalSetting:             FamilyPlanning,
	CategoryLessonGeneration:        FamilyContent,
	CategoryExampleGeneration:       FamilyContent,
	CategoryFlashcardGeneration:     FamilyContent,
	CategoryQuestionGeneration:      FamilyContent,
	CategoryQuizGeneration:          FamilyAssessment,
	CategoryAnswerEvaluation:        FamilyAssessment,
	CategoryProgressReview:          FamilyAssessment,
	CategoryKnowledgeCheck:          FamilyAssessment,
	CategorySessionSummary:          FamilySummarization,
	CategoryDocumentSummary:         FamilySummarization,
	CategoryKeyPointExtraction:      FamilySummarization,
	CategoryTopicSelection:          FamilyNavigation,
	CategoryCourseNavigation:        FamilyNavigation,
	CategoryCapabilityInquiry:       FamilyNavigation,
	CategoryReflectionPrompt:        FamilyMeta,
	CategoryMotivationSupport:       FamilyMeta,
	CategoryErrorRecovery:           FamilyMeta,
}

// Family returns the family a category belongs to.
func (c TaskCategory) Family() Family {
	if f, ok := categoryFamilies[c]; ok {
		return f
	}
	return FamilySimple
}

// Categories returns every known category, in declaration order.
func Categories() []TaskCategory {
	out := make([]TaskCategory, 0, len(categoryNames))
	for c := CategorySimpleResponse; c <= CategoryErrorRecovery; c++ {
		out = append(out, c)
	}
	return out
}
