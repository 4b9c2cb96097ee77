package binding

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/bowerhall/parley/internal/discussion"
	"github.com/pkoukk/tiktoken-go"
)

// claude generates through the Anthropic API. The API exposes no tokenizer
// endpoint, so Tokenize/Detokenize run a local cl100k_base encoding; counts
// are approximate but close enough for prompt budgeting.
type claude struct {
	client  anthropic.Client
	model   string
	encoder *tiktoken.Tiktoken
}

func newClaude(apiKey, model string) (*claude, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("claude binding requires an api key")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return &claude{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		encoder: encoder,
	}, nil
}

func (c *claude) Name() string {
	return "claude"
}

func (c *claude) ModelName() string {
	return c.model
}

func (c *claude) Tokenize(_ context.Context, text string) ([]int, error) {
	return c.encoder.Encode(text, nil, nil), nil
}

func (c *claude) Detokenize(_ context.Context, tokens []int) (string, error) {
	return c.encoder.Decode(tokens), nil
}

func (c *claude) Generate(ctx context.Context, prompt string, params Params, onFragment FragmentCallback) (string, error) {
	maxTokens := params.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	msgParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if params.Temperature > 0 {
		msgParams.Temperature = anthropic.Float(params.Temperature)
	}
	if params.TopK > 0 {
		msgParams.TopK = anthropic.Int(int64(params.TopK))
	}
	if params.TopP > 0 {
		msgParams.TopP = anthropic.Float(params.TopP)
	}

	stream := c.client.Messages.NewStreaming(ctx, msgParams)
	defer stream.Close()

	var generated string

	for stream.Next() {
		event := stream.Current()
		deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		textDelta, ok := deltaEvent.Delta.AsAny().(anthropic.TextDelta)
		if !ok || textDelta.Text == "" {
			continue
		}

		generated += textDelta.Text
		if onFragment != nil && !onFragment(textDelta.Text, discussion.KindChunk, nil) {
			return generated, nil
		}
	}

	if err := stream.Err(); err != nil {
		return generated, fmt.Errorf("claude stream failed: %w", err)
	}

	return generated, nil
}
