package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/bowerhall/parley/internal/discussion"
)

// Tokenizer is the slice of the model binding the assembler needs.
type Tokenizer interface {
	Tokenize(ctx context.Context, text string) ([]int, error)
	Detokenize(ctx context.Context, tokens []int) (string, error)
}

// Assembler renders a discussion into a single bounded prompt. Three quarters
// of the context window go to conditioning plus history; the rest is headroom
// for the reply. When the history overflows, the oldest content is dropped by
// detokenizing the tail slice, so the most recent turn always survives.
type Assembler struct {
	tok       Tokenizer
	separator string
}

func NewAssembler(tok Tokenizer, separator string) *Assembler {
	return &Assembler{tok: tok, separator: separator}
}

// Assemble builds the prompt for generating a reply to (or a continuation of)
// the message with id upToID. upToID == -1 targets the last message. History
// covers every model-visible message before the target; the target's own turn
// closes the prompt, followed by the raw assistant message prefix on its own
// line unless isContinue is set, in which case the model extends the target's
// existing content.
func (a *Assembler) Assemble(ctx context.Context, msgs []discussion.Message, conditioning, aiPrefix string, upToID int64, isContinue bool, maxContextTokens int) (string, int, error) {
	target, history := splitAtTarget(msgs, upToID)

	var lines []string
	for _, m := range history {
		if !m.Kind.VisibleToModel() {
			continue
		}
		lines = append(lines, a.renderTurn(m.Sender, m.Content))
	}
	if target != nil {
		lines = append(lines, a.renderTurn(target.Sender, target.Content))
	}

	body := strings.Join(lines, "\n")
	if target != nil && !isContinue {
		body += "\n" + aiPrefix
	}

	condTokens, err := a.tok.Tokenize(ctx, conditioning)
	if err != nil {
		return "", 0, fmt.Errorf("tokenize conditioning: %w", err)
	}
	bodyTokens, err := a.tok.Tokenize(ctx, body)
	if err != nil {
		return "", 0, fmt.Errorf("tokenize prompt body: %w", err)
	}

	budget := 3 * maxContextTokens / 4
	if len(condTokens)+len(bodyTokens) > budget {
		keep := budget - len(condTokens)
		if keep <= 0 {
			return conditioning, len(condTokens), nil
		}
		tail := bodyTokens[len(bodyTokens)-keep:]
		body, err = a.tok.Detokenize(ctx, tail)
		if err != nil {
			return "", 0, fmt.Errorf("detokenize truncated body: %w", err)
		}
		return conditioning + body, len(condTokens) + len(tail), nil
	}

	return conditioning + body, len(condTokens) + len(bodyTokens), nil
}

func (a *Assembler) renderTurn(sender, content string) string {
	return a.separator + sender + ": " + strings.TrimSpace(content)
}

// splitAtTarget picks the target message and the history strictly before it.
// Messages at or after the target never enter the prompt; that excludes the
// assistant placeholder created just before generation starts.
func splitAtTarget(msgs []discussion.Message, upToID int64) (*discussion.Message, []discussion.Message) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if upToID == -1 {
		last := msgs[len(msgs)-1]
		return &last, msgs[:len(msgs)-1]
	}
	for i := range msgs {
		if msgs[i].ID == upToID {
			return &msgs[i], msgs[:i]
		}
	}
	// unknown id: treat everything as history, no trailing turn
	return nil, msgs
}
