package binding

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bowerhall/parley/internal/discussion"
	"github.com/bowerhall/parley/internal/logger"
)

const (
	streamScanBuffer = 256 * 1024
	streamScanMax    = 1024 * 1024
)

// llamacpp talks to a llama.cpp server over HTTP: /tokenize, /detokenize and
// the streaming /completion endpoint. Generation streams server-sent
// "data: {...}" lines, one fragment per line.
type llamacpp struct {
	baseURL string
	model   string
	client  *http.Client
}

func newLlamaCpp(baseURL, model string) *llamacpp {
	return &llamacpp{
		baseURL: normalizeBaseURL(baseURL),
		model:   model,
		// no Timeout: generation legitimately runs for minutes, the
		// caller's context bounds each call
		client: &http.Client{},
	}
}

func (b *llamacpp) Name() string {
	return "llamacpp"
}

func (b *llamacpp) ModelName() string {
	return b.model
}

type tokenizeRequest struct {
	Content string `json:"content"`
}

type tokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

type detokenizeRequest struct {
	Tokens []int `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

func (b *llamacpp) Tokenize(ctx context.Context, text string) ([]int, error) {
	var resp tokenizeResponse
	if err := b.post(ctx, "/tokenize", tokenizeRequest{Content: text}, &resp); err != nil {
		return nil, err
	}
	return resp.Tokens, nil
}

func (b *llamacpp) Detokenize(ctx context.Context, tokens []int) (string, error) {
	var resp detokenizeResponse
	if err := b.post(ctx, "/detokenize", detokenizeRequest{Tokens: tokens}, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

type completionRequest struct {
	Prompt        string  `json:"prompt"`
	Stream        bool    `json:"stream"`
	NPredict      int     `json:"n_predict,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	RepeatLastN   int     `json:"repeat_last_n,omitempty"`
	Seed          int     `json:"seed,omitempty"`
	Threads       int     `json:"n_threads,omitempty"`
}

type completionEvent struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (b *llamacpp) Generate(ctx context.Context, prompt string, params Params, onFragment FragmentCallback) (string, error) {
	payload := completionRequest{
		Prompt:        prompt,
		Stream:        true,
		NPredict:      params.MaxNewTokens,
		Temperature:   params.Temperature,
		TopK:          params.TopK,
		TopP:          params.TopP,
		RepeatPenalty: params.RepeatPenalty,
		RepeatLastN:   params.RepeatLastN,
		Seed:          params.Seed,
		Threads:       params.Threads,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llamacpp completion failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llamacpp completion failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var generated strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, streamScanBuffer), streamScanMax)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")

		var event completionEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return generated.String(), fmt.Errorf("llamacpp stream: decode chunk: %w", err)
		}

		if event.Content != "" {
			generated.WriteString(event.Content)
			if onFragment != nil && !onFragment(event.Content, discussion.KindChunk, nil) {
				// consumer asked to stop; closing the body (via the
				// deferred Close) aborts the server-side generation
				logger.Debug("llamacpp stream stopped by consumer")
				return generated.String(), nil
			}
		}

		if event.Stop {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return generated.String(), fmt.Errorf("llamacpp stream failed: %w", err)
	}

	return generated.String(), nil
}

func (b *llamacpp) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("llamacpp %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llamacpp %s failed: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func normalizeBaseURL(baseURL string) string {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		return "http://localhost:8080"
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/")
}
