package personality

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCard(t *testing.T) {
	card := `
name: librarian
personality_conditioning: |
  You are a helpful librarian.
welcome_message: "Welcome to the library."
include_welcome_in_discussion: true
user_message_prefix: "Reader"
antiprompts:
  - "Reader:"
model_temperature: 0.5
`
	path := filepath.Join(t.TempDir(), "librarian.yaml")
	if err := os.WriteFile(path, []byte(card), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if p.Name != "librarian" {
		t.Errorf("expected name librarian, got %q", p.Name)
	}
	if p.AIMessagePrefix != "librarian" {
		t.Errorf("expected ai prefix to default to name, got %q", p.AIMessagePrefix)
	}
	if !p.IncludeWelcome {
		t.Error("expected include_welcome_in_discussion true")
	}
	if p.ModelTemperature == nil || *p.ModelTemperature != 0.5 {
		t.Error("expected model_temperature override 0.5")
	}
}

func TestDetectAntiprompt(t *testing.T) {
	p := &Personality{Antiprompts: []string{"USER:", "### Human"}}

	marker, idx := p.DetectAntiprompt("Hello there\nUSER:")
	if marker != "USER:" {
		t.Errorf("expected marker USER:, got %q", marker)
	}
	if idx != 12 {
		t.Errorf("expected index 12, got %d", idx)
	}

	// case-insensitive both ways
	p2 := &Personality{Antiprompts: []string{"user:"}}
	if _, idx := p2.DetectAntiprompt("Hello there\nUSER:"); idx != 12 {
		t.Errorf("expected lowercase marker to match uppercase text at 12, got %d", idx)
	}

	if _, idx := p.DetectAntiprompt("nothing suspicious here"); idx != -1 {
		t.Errorf("expected no match, got index %d", idx)
	}
}

func TestDetectAntipromptMultibytePrefix(t *testing.T) {
	p := &Personality{Antiprompts: []string{"user:"}}

	// İ lowercases to two runes; the index must still point into the
	// original text so the truncated slice stays rune-aligned
	text := "İstanbul\nUSER: hey"
	_, idx := p.DetectAntiprompt(text)
	if idx != len("İstanbul\n") {
		t.Fatalf("expected index %d, got %d", len("İstanbul\n"), idx)
	}
	if text[:idx] != "İstanbul\n" {
		t.Errorf("expected clean truncation, got %q", text[:idx])
	}
}
