package classify

import (
	"strings"

	"github.com/kalambet/tutord/internal/chat"
)

// rule is one keyword test: it matches when the text contains any phrase.
type rule struct {
	category TaskCategory
	phrases  []string
}

// The cascade is ordered most-specific-first: meta tasks and trivial
// interactions are checked before the tutoring families so that, e.g., "quiz"
// inside a tutoring-flavored system prompt still lands on assessment rather
// than generic tutoring. Within a group, declaration order breaks ties. There
// is no scoring.
var metaRules = []rule{
	{CategoryErrorRecovery, []string{"something went wrong", "that didn't work", "that did not work", "an error occurred", "start over"}},
	{CategoryReflectionPrompt, []string{"reflect on", "what did i learn", "how did i do", "self-assess", "look back on"}},
	{CategoryMotivationSupport, []string{"discouraged", "want to give up", "feeling stuck", "motivate me", "keep me motivated", "losing motivation"}},
}

var simpleRules = []rule{
	{CategoryGreeting, []string{"hello", "hi there", "hey there", "good morning", "good afternoon", "good evening"}},
	{CategoryAcknowledgement, []string{"thank you", "thanks", "got it", "sounds good", "makes sense now"}},
}

var assessmentRules = []rule{
	{CategoryQuizGeneration, []string{"quiz", "test me", "practice test", "mock exam"}},
	{CategoryAnswerEvaluation, []string{"grade my", "check my answer", "is my answer", "did i get it right", "mark my"}},
	{CategoryProgressReview, []string{"my progress", "how am i doing", "how far have i come", "track my improvement"}},
	{CategoryKnowledgeCheck, []string{"do i understand", "check my understanding", "am i ready for", "have i mastered"}},
}

var tutoringRules = []rule{
	{CategoryStepByStepWalkthrough, []string{"step by step", "step-by-step", "walk me through", "work through", "show me how to solve"}},
	{CategorySocraticGuidance, []string{"don't tell me the answer", "do not tell me the answer", "guide me", "ask me questions", "socratic"}},
	{CategoryHintRequest, []string{"hint", "nudge", "a clue", "point me in the right"}},
	{CategoryMisconceptionCorrection, []string{"is it true that", "i thought that", "i heard that", "isn't it the case"}},
	{CategoryConceptExplanation, []string{"explain", "what is", "what are", "why does", "why is", "how does", "define", "help me understand"}},
}

var planningRules = []rule{
	{CategoryStudyPlanCreation, []string{"study plan", "learning plan", "study schedule", "plan my stud"}},
	{CategorySessionPlanning, []string{"this session", "today's session", "session plan", "what should we cover"}},
	{CategoryGoalSetting, []string{"set a goal", "my goal", "learning goal", "objective", "milestone"}},
}

var contentRules = []rule{
	{CategoryFlashcardGeneration, []string{"flashcard", "flash card"}},
	{CategoryLessonGeneration, []string{"create a lesson", "lesson on", "lesson about", "mini-lesson"}},
	{CategoryQuestionGeneration, []string{"practice questions", "generate questions", "exercises on", "problems about", "problem set"}},
	{CategoryExampleGeneration, []string{"example", "for instance", "illustrate", "sample problem"}},
}

var summarizationRules = []rule{
	{CategorySessionSummary, []string{"summarize our", "summary of our", "recap", "what did we cover"}},
	{CategoryDocumentSummary, []string{"summarize", "summarise", "tl;dr", "condense", "shorten this"}},
	{CategoryKeyPointExtraction, []string{"key points", "main ideas", "takeaways", "most important points"}},
}

var navigationRules = []rule{
	{CategoryTopicSelection, []string{"what topic", "which topic", "what should i learn", "pick a topic", "choose a subject"}},
	{CategoryCourseNavigation, []string{"next lesson", "previous lesson", "go back to", "skip to", "move on to"}},
	{CategoryCapabilityInquiry, []string{"what can you do", "what are you able to", "how do you work", "what do you know"}},
}

// cascade holds the groups in evaluation order.
var cascade = [][]rule{
	metaRules,
	simpleRules,
	assessmentRules,
	tutoringRules,
	planningRules,
	contentRules,
	summarizationRules,
	navigationRules,
}

// Classify maps a conversation to a task category. It inspects the system
// message and the most recent user message, lowercased. It always returns a
// category; unmatched or empty input yields CategorySimpleResponse.
func Classify(messages []chat.Message) TaskCategory {
	text := strings.ToLower(chat.SystemText(messages) + " " + chat.LatestUserText(messages))
	for _, group := range cascade {
		for _, r := range group {
			for _, phrase := range r.phrases {
				if strings.Contains(text, phrase) {
					return r.category
				}
			}
		}
	}
	return CategorySimpleResponse
}
