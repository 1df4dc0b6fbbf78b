package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"drawl/internal/logging"

	openai "github.com/sashabaranov/go-openai"
)

type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return openai.ChatCompletionResponse{}, c.errs[i]
	}
	content := ""
	if i < len(c.responses) {
		content = c.responses[i]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func testFeatures() map[string]any {
	return map[string]any{"pitch_mean": 140.0, "tempo": 110.0}
}

func TestAnalyzeParsesVerdict(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"accent": "British", "confidence": 87, "explanation": "non-rhotic patterns"}`,
	}}
	o := NewOpenAIWithClient(client, "gpt-4", logging.NewTestLogger())

	v, err := o.Analyze(context.Background(), "hello there", testFeatures())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if v.Accent != "British" || v.Confidence != 87 {
		t.Fatalf("verdict: %+v", v)
	}
}

func TestAnalyzeStripsMarkdownFence(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"```json\n{\"accent\": \"Indian\", \"confidence\": 70, \"explanation\": \"retroflex\"}\n```",
	}}
	o := NewOpenAIWithClient(client, "gpt-4", logging.NewTestLogger())

	v, err := o.Analyze(context.Background(), "t", testFeatures())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if v.Accent != "Indian" {
		t.Fatalf("verdict: %+v", v)
	}
}

func TestAnalyzeClampsConfidence(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"accent": "American", "confidence": 250, "explanation": "x"}`,
	}}
	o := NewOpenAIWithClient(client, "gpt-4", logging.NewTestLogger())

	v, err := o.Analyze(context.Background(), "t", testFeatures())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if v.Confidence != 100 {
		t.Fatalf("confidence not clamped: %v", v.Confidence)
	}
}

func TestAnalyzeMalformedResponse(t *testing.T) {
	client := &scriptedClient{responses: []string{"sorry, I cannot help with that"}}
	o := NewOpenAIWithClient(client, "gpt-4", logging.NewTestLogger())

	_, err := o.Analyze(context.Background(), "t", testFeatures())
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != KindMalformedResponse {
		t.Fatalf("expected malformed-response error, got %v", err)
	}
}

func TestAnalyzeMissingFields(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"confidence": 50}`}}
	o := NewOpenAIWithClient(client, "gpt-4", logging.NewTestLogger())

	_, err := o.Analyze(context.Background(), "t", testFeatures())
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != KindMalformedResponse {
		t.Fatalf("expected malformed-response error, got %v", err)
	}
}

func TestAnalyzeAuthErrorNotRetried(t *testing.T) {
	authErr := &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}
	client := &scriptedClient{errs: []error{authErr, authErr, authErr}}
	o := NewOpenAIWithClient(client, "gpt-4", logging.NewTestLogger())

	_, err := o.Analyze(context.Background(), "t", testFeatures())
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("auth errors must not be retried, got %d calls", client.calls)
	}
}

func TestAnalyzeRetriesTransientThenSucceeds(t *testing.T) {
	rateErr := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
	client := &scriptedClient{
		errs: []error{rateErr, nil},
		responses: []string{
			"",
			`{"accent": "Canadian", "confidence": 60, "explanation": "raising"}`,
		},
	}
	o := NewOpenAIWithClient(client, "gpt-4", logging.NewTestLogger())

	v, err := o.Analyze(context.Background(), "t", testFeatures())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if v.Accent != "Canadian" {
		t.Fatalf("verdict: %+v", v)
	}
	if client.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", client.calls)
	}
}

func TestAnalyzeRateLimitExhaustsRetries(t *testing.T) {
	rateErr := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
	client := &scriptedClient{errs: []error{rateErr, rateErr, rateErr}}
	o := NewOpenAIWithClient(client, "gpt-4", logging.NewTestLogger())

	_, err := o.Analyze(context.Background(), "t", testFeatures())
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != KindRateLimit {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", client.calls)
	}
}
