package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/bowerhall/parley/internal/discussion"
)

func testMessages() []discussion.Message {
	return []discussion.Message{
		{ID: 1, Sender: "user", Content: "Hi", Kind: discussion.KindFull},
		{ID: 2, Sender: "parley", Content: "Hello!", Kind: discussion.KindFull},
		{ID: 3, Sender: "user", Content: "How are you?", Kind: discussion.KindFull},
	}
}

func TestAssembleReply(t *testing.T) {
	a := NewAssembler(runeTok{}, "!@>")

	prompt, count, err := a.Assemble(context.Background(), testMessages(), "Be nice.\n", "parley", 3, false, 4096)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	want := "Be nice.\n" +
		"!@>user: Hi\n" +
		"!@>parley: Hello!\n" +
		"!@>user: How are you?\n" +
		"parley"
	if prompt != want {
		t.Errorf("unexpected prompt:\n got %q\nwant %q", prompt, want)
	}
	if count != len([]rune(prompt)) {
		t.Errorf("expected token count %d, got %d", len([]rune(prompt)), count)
	}
}

func TestAssembleContinue(t *testing.T) {
	a := NewAssembler(runeTok{}, "!@>")

	prompt, _, err := a.Assemble(context.Background(), testMessages(), "", "parley", 2, true, 4096)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	want := "!@>user: Hi\n!@>parley: Hello!"
	if prompt != want {
		t.Errorf("expected continue prompt to end on the target turn:\n got %q\nwant %q", prompt, want)
	}
}

func TestAssembleLastMessageTarget(t *testing.T) {
	a := NewAssembler(runeTok{}, "!@>")

	prompt, _, err := a.Assemble(context.Background(), testMessages(), "", "parley", -1, false, 4096)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !strings.HasSuffix(prompt, "!@>user: How are you?\nparley") {
		t.Errorf("expected -1 to target the last message, got %q", prompt)
	}
}

func TestAssembleSkipsModelInvisible(t *testing.T) {
	a := NewAssembler(runeTok{}, "!@>")

	msgs := []discussion.Message{
		{ID: 1, Sender: "parley", Content: "secret note", Kind: discussion.KindFullInvisibleToModel},
		{ID: 2, Sender: "user", Content: "Hi", Kind: discussion.KindFull},
	}
	prompt, _, err := a.Assemble(context.Background(), msgs, "", "parley", 2, false, 4096)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if strings.Contains(prompt, "secret note") {
		t.Errorf("expected invisible message excluded, got %q", prompt)
	}
}

func TestAssembleTruncatesFromFront(t *testing.T) {
	a := NewAssembler(runeTok{}, "!@>")

	msgs := []discussion.Message{
		{ID: 1, Sender: "user", Content: strings.Repeat("old ", 100), Kind: discussion.KindFull},
		{ID: 2, Sender: "user", Content: "newest turn", Kind: discussion.KindFull},
	}

	maxCtx := 100 // budget 75 runes, far below the rendered body
	prompt, count, err := a.Assemble(context.Background(), msgs, "", "parley", 2, false, maxCtx)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	budget := 3 * maxCtx / 4
	if count > budget {
		t.Errorf("expected token count <= %d, got %d", budget, count)
	}
	if !strings.HasSuffix(prompt, "newest turn\nparley") {
		t.Errorf("expected most recent turn preserved at the end, got %q", prompt)
	}
	if strings.HasPrefix(prompt, "!@>user: old") {
		t.Error("expected truncation to drop the oldest content first")
	}
}

func TestAssembleConditioningSwallowsBudget(t *testing.T) {
	a := NewAssembler(runeTok{}, "!@>")

	conditioning := strings.Repeat("c", 80)
	prompt, count, err := a.Assemble(context.Background(), testMessages(), conditioning, "parley", 3, false, 100)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if prompt != conditioning {
		t.Errorf("expected conditioning-only prompt, got %q", prompt)
	}
	if count != 80 {
		t.Errorf("expected token count 80, got %d", count)
	}
}

func TestAssembleEmptyDiscussion(t *testing.T) {
	a := NewAssembler(runeTok{}, "!@>")

	prompt, count, err := a.Assemble(context.Background(), nil, "Be nice.", "parley", -1, false, 4096)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if prompt != "Be nice." {
		t.Errorf("expected conditioning only for empty discussion, got %q", prompt)
	}
	if count != len("Be nice.") {
		t.Errorf("unexpected token count %d", count)
	}
}
