package binding

import (
	"context"
	"fmt"

	"github.com/bowerhall/parley/internal/discussion"
)

type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Params are the recognized generation options. Zero values mean "use the
// runtime's default" except MaxNewTokens, which callers must set.
type Params struct {
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
	RepeatLastN   int
	Seed          int
	Threads       int
	MaxNewTokens  int
}

// FragmentCallback receives each fragment the runtime produces, classified
// with a message kind and optional metadata. Returning false tells the
// binding to stop generating promptly; this is the only way cancellation and
// stop-marker truncation reach into the generation loop.
type FragmentCallback func(fragment string, kind discussion.MsgKind, metadata map[string]any) bool

// Binding is a loaded model runtime. Generate blocks until generation ends,
// invoking onFragment zero or more times, and returns the accumulated text.
// All calls honor context cancellation; cancelling the context is the forced
// interrupt hook for workers stuck inside a generate call.
type Binding interface {
	Name() string
	ModelName() string
	Tokenize(ctx context.Context, text string) ([]int, error)
	Detokenize(ctx context.Context, tokens []int) (string, error)
	Generate(ctx context.Context, prompt string, params Params, onFragment FragmentCallback) (string, error)
}

func New(cfg Config) (Binding, error) {
	switch cfg.Provider {
	case "llamacpp":
		return newLlamaCpp(cfg.BaseURL, cfg.Model), nil
	case "claude":
		return newClaude(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown binding: %s", cfg.Provider)
	}
}
