package chat

import "testing"

func TestSystemText_FirstSystemWins(t *testing.T) {
	msgs := []Message{
		System("you are a tutor"),
		User("hi"),
		System("second system"),
	}
	if got := SystemText(msgs); got != "you are a tutor" {
		t.Errorf("SystemText = %q, want %q", got, "you are a tutor")
	}
}

func TestSystemText_Empty(t *testing.T) {
	if got := SystemText(nil); got != "" {
		t.Errorf("SystemText(nil) = %q, want empty", got)
	}
}

func TestLatestUserText(t *testing.T) {
	msgs := []Message{
		System("tutor"),
		User("first question"),
		Assistant("answer"),
		User("second question"),
	}
	if got := LatestUserText(msgs); got != "second question" {
		t.Errorf("LatestUserText = %q, want %q", got, "second question")
	}
}

func TestLatestUserText_NoUser(t *testing.T) {
	msgs := []Message{System("tutor"), Assistant("hello")}
	if got := LatestUserText(msgs); got != "" {
		t.Errorf("LatestUserText = %q, want empty", got)
	}
}

func TestTranscript(t *testing.T) {
	msgs := []Message{User("a"), Assistant("b")}
	want := "[user]: a\n[assistant]: b\n"
	if got := Transcript(msgs); got != want {
		t.Errorf("Transcript = %q, want %q", got, want)
	}
}
