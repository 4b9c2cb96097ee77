package personality

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Personality is a conditioning card loaded from disk: who the assistant is,
// how turns are labeled, and which markers mean the model has started
// hallucinating a new turn.
type Personality struct {
	Name                 string   `yaml:"name"`
	Author               string   `yaml:"author"`
	Conditioning         string   `yaml:"personality_conditioning"`
	WelcomeMessage       string   `yaml:"welcome_message"`
	IncludeWelcome       bool     `yaml:"include_welcome_in_discussion"`
	UserMessagePrefix    string   `yaml:"user_message_prefix"`
	AIMessagePrefix      string   `yaml:"ai_message_prefix"`
	Antiprompts          []string `yaml:"antiprompts"`
	ModelTemperature     *float64 `yaml:"model_temperature"`
	ModelTopK            *int     `yaml:"model_top_k"`
	ModelTopP            *float64 `yaml:"model_top_p"`
	ModelRepeatPenalty   *float64 `yaml:"model_repeat_penalty"`
	ModelRepeatLastN     *int     `yaml:"model_repeat_last_n"`
	ModelMaxNewTokens    *int     `yaml:"model_n_predicts"`
}

func Load(path string) (*Personality, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personality: %w", err)
	}

	var p Personality
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse personality %s: %w", path, err)
	}

	if p.Name == "" {
		p.Name = "parley"
	}
	if p.UserMessagePrefix == "" {
		p.UserMessagePrefix = "User"
	}
	if p.AIMessagePrefix == "" {
		p.AIMessagePrefix = p.Name
	}

	return &p, nil
}

// Default returns a usable personality when no card is configured.
func Default() *Personality {
	return &Personality{
		Name:              "parley",
		UserMessagePrefix: "User",
		AIMessagePrefix:   "parley",
		Antiprompts:       []string{"User:", "### Human"},
	}
}

// DetectAntiprompt scans generated text for any configured stop marker,
// case-insensitively. It returns the marker and the byte index in text where
// it starts, or -1 when nothing matched.
func (p *Personality) DetectAntiprompt(text string) (string, int) {
	for _, marker := range p.Antiprompts {
		if marker == "" {
			continue
		}
		if idx := indexFold(text, marker); idx != -1 {
			return marker, idx
		}
	}
	return "", -1
}

// indexFold is a case-insensitive strings.Index reporting offsets into s
// itself. Lowercasing the haystack first is not safe here: folding can change
// byte length (e.g. U+0130) and would shift the cut point into the middle of
// a rune.
func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}
