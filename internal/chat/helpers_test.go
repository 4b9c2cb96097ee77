package chat

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bowerhall/parley/internal/binding"
	"github.com/bowerhall/parley/internal/config"
	"github.com/bowerhall/parley/internal/discussion"
	"github.com/bowerhall/parley/internal/personality"
)

// runeTok is a deterministic tokenizer for tests: one token per rune.
type runeTok struct{}

func (runeTok) Tokenize(_ context.Context, text string) ([]int, error) {
	runes := []rune(text)
	tokens := make([]int, len(runes))
	for i, r := range runes {
		tokens[i] = int(r)
	}
	return tokens, nil
}

func (runeTok) Detokenize(_ context.Context, tokens []int) (string, error) {
	runes := make([]rune, len(tokens))
	for i, tok := range tokens {
		runes[i] = rune(tok)
	}
	return string(runes), nil
}

type fragEvent struct {
	text string
	kind discussion.MsgKind
}

// fakeBinding scripts the model side of a generation run.
type fakeBinding struct {
	runeTok
	chunks    []string    // emitted as CHUNK fragments
	fragments []fragEvent // takes precedence over chunks when set
	loop      bool        // emit "x" forever until the callback stops it
	blockCtx  bool        // simulate a stuck native call: only ctx unblocks it
	genErr    error
}

func (f *fakeBinding) Name() string      { return "fake" }
func (f *fakeBinding) ModelName() string { return "fake-model" }

func (f *fakeBinding) Generate(ctx context.Context, prompt string, params binding.Params, cb binding.FragmentCallback) (string, error) {
	if f.blockCtx {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.genErr != nil {
		return "", f.genErr
	}
	if f.loop {
		var out string
		for {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			default:
			}
			out += "x"
			if !cb("x", discussion.KindChunk, nil) {
				return out, nil
			}
			time.Sleep(time.Millisecond)
		}
	}

	frags := f.fragments
	if frags == nil {
		for _, c := range f.chunks {
			frags = append(frags, fragEvent{text: c, kind: discussion.KindChunk})
		}
	}

	var out string
	for _, fr := range frags {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		out += fr.text
		if !cb(fr.text, fr.kind, nil) {
			return out, nil
		}
	}
	return out, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(_ string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) byName(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingEmitter) waitFor(t *testing.T, name string) Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if evs := r.byName(name); len(evs) > 0 {
			return evs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s event", name)
	return Event{}
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !s.Processing() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never left processing state")
}

func newTestEngine(t *testing.T, fb *fakeBinding) (*Engine, *recordingEmitter, *discussion.Store) {
	t.Helper()

	store, err := discussion.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Binding:         config.BindingConfig{Provider: "fake", CtxSize: 2048},
		Generation:      config.GenerationConfig{Temperature: 0.7, TopK: 40, TopP: 0.9},
		User:            config.UserConfig{Name: "user", PromptSeparator: "!@>"},
		CancelGraceSecs: 1,
	}

	rec := &recordingEmitter{}
	eng := NewEngine(cfg, store, fb, personality.Default(), rec)
	return eng, rec, store
}
