package binding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bowerhall/parley/internal/discussion"
)

func TestLlamaCppTokenizeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokenize":
			var req tokenizeRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Content != "hello world" {
				t.Errorf("unexpected tokenize content %q", req.Content)
			}
			json.NewEncoder(w).Encode(tokenizeResponse{Tokens: []int{15339, 1917}})
		case "/detokenize":
			var req detokenizeRequest
			json.NewDecoder(r.Body).Decode(&req)
			if len(req.Tokens) != 2 {
				t.Errorf("unexpected token count %d", len(req.Tokens))
			}
			json.NewEncoder(w).Encode(detokenizeResponse{Content: "hello world"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := newLlamaCpp(srv.URL, "test-model")

	tokens, err := b.Tokenize(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}

	text, err := b.Detokenize(context.Background(), tokens)
	if err != nil {
		t.Fatalf("detokenize: %v", err)
	}
	if text != "hello world" {
		t.Errorf("expected round-trip text, got %q", text)
	}
}

func TestLlamaCppGenerateStreams(t *testing.T) {
	chunks := []string{"Hello", ", ", "world"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			http.NotFound(w, r)
			return
		}
		var req completionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected streaming request")
		}
		if req.NPredict != 64 {
			t.Errorf("expected n_predict 64, got %d", req.NPredict)
		}
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"content\": %q, \"stop\": false}\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"content\": \"\", \"stop\": true}\n\n")
	}))
	defer srv.Close()

	b := newLlamaCpp(srv.URL, "test-model")

	var got []string
	text, err := b.Generate(context.Background(), "prompt", Params{MaxNewTokens: 64}, func(frag string, kind discussion.MsgKind, _ map[string]any) bool {
		if kind != discussion.KindChunk {
			t.Errorf("expected chunk kind, got %d", kind)
		}
		got = append(got, frag)
		return true
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if text != "Hello, world" {
		t.Errorf("expected accumulated text, got %q", text)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 fragments, got %d", len(got))
	}
}

func TestLlamaCppGenerateStopsOnCallbackFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, "data: {\"content\": \"x\", \"stop\": false}\n\n")
			flusher.Flush()
		}
	}))
	defer srv.Close()

	b := newLlamaCpp(srv.URL, "test-model")

	count := 0
	text, err := b.Generate(context.Background(), "prompt", Params{}, func(string, discussion.MsgKind, map[string]any) bool {
		count++
		return count < 3
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "xxx" {
		t.Errorf("expected stop after 3 fragments, got %q", text)
	}
}

func TestLlamaCppGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := newLlamaCpp(srv.URL, "test-model")
	if _, err := b.Generate(context.Background(), "prompt", Params{}, nil); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                      "http://localhost:8080",
		"localhost:9090":        "http://localhost:9090",
		"http://host:8080/":     "http://host:8080",
		"https://host.internal": "https://host.internal",
	}
	for in, want := range cases {
		if got := normalizeBaseURL(in); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "gpt4all"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
