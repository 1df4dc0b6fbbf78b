// Package llm asks a chat model for an accent verdict from a transcript
// and feature vector. It is an external collaborator: the pipeline passes
// its errors through without retrying beyond what this package does
// itself.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Kind distinguishes collaborator failure causes so the caller can render
// differentiated guidance.
type Kind int

const (
	KindOther Kind = iota
	KindAuth
	KindRateLimit
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate-limit"
	case KindMalformedResponse:
		return "malformed-response"
	}
	return "other"
}

// Error is a collaborator failure with its cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm analysis failed (%s): %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Verdict is the model's structured accent judgment.
type Verdict struct {
	Accent      string  `json:"accent"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Analyzer produces a verdict from transcript plus features.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, features map[string]any) (*Verdict, error)
}

const promptTemplate = `You are an expert linguist and speech analyst specializing in English accent detection.
Given the following transcript and audio features, identify the speaker's English accent.

Available accents: American, British, Australian, Canadian, Indian, Other

Transcript:
%s

Audio features:
%s

Please respond in the following JSON format:
{
  "accent": "accent_name",
  "confidence": confidence_score_0_to_100,
  "explanation": "detailed_explanation_of_why_this_accent_was_detected"
}

Focus on:
- Pronunciation patterns
- Vocabulary choices
- Intonation patterns
- Regional speech markers
- Audio feature correlations`

// chatClient is the slice of the OpenAI client the analyzer needs,
// abstracted for tests.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI analyzes accents via the OpenAI chat completion API.
type OpenAI struct {
	client      chatClient
	model       string
	timeout     time.Duration
	maxAttempts int
	backoff     func(attempt int) time.Duration
	logger      *logrus.Logger
}

// NewOpenAI constructs the analyzer. The API key must be set; an empty
// key fails on first use with an auth error.
func NewOpenAI(apiKey, model string, timeout time.Duration, logger *logrus.Logger) *OpenAI {
	return &OpenAI{
		client:      openai.NewClient(apiKey),
		model:       model,
		timeout:     timeout,
		maxAttempts: 3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		logger: logger,
	}
}

// NewOpenAIWithClient constructs the analyzer with an injectable client
// for tests.
func NewOpenAIWithClient(client chatClient, model string, logger *logrus.Logger) *OpenAI {
	return &OpenAI{
		client:      client,
		model:       model,
		maxAttempts: 3,
		backoff:     func(int) time.Duration { return 0 },
		logger:      logger,
	}
}

// Analyze sends transcript and features to the model and parses the
// structured verdict. Transient API errors are retried with backoff;
// auth and malformed-response errors are not.
func (o *OpenAI) Analyze(ctx context.Context, transcript string, features map[string]any) (*Verdict, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	featJSON, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return nil, &Error{Kind: KindOther, Message: "cannot serialize features", Err: err}
	}
	prompt := fmt.Sprintf(promptTemplate, transcript, string(featJSON))

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: o.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: 0.1,
			MaxTokens:   500,
		})
		if err != nil {
			kerr := classify(err)
			if kerr.Kind == KindAuth {
				return nil, kerr
			}
			lastErr = kerr
			o.logger.Warnf("llm attempt %d/%d failed: %v", attempt, o.maxAttempts, err)
			if attempt < o.maxAttempts {
				select {
				case <-ctx.Done():
					return nil, &Error{Kind: KindOther, Message: "canceled", Err: ctx.Err()}
				case <-time.After(o.backoff(attempt)):
				}
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return nil, &Error{Kind: KindMalformedResponse, Message: "model returned no choices"}
		}
		return parseVerdict(resp.Choices[0].Message.Content)
	}
	return nil, lastErr
}

func classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &Error{Kind: KindAuth, Message: "authentication failed; check the API key", Err: err}
		case http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimit, Message: "rate limit exceeded", Err: err}
		}
	}
	return &Error{Kind: KindOther, Message: err.Error(), Err: err}
}

// parseVerdict decodes the model's JSON, tolerating markdown code fences,
// and validates the structure. Confidence is clamped into [0, 100].
func parseVerdict(content string) (*Verdict, error) {
	raw := stripCodeFence(content)

	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &Error{
			Kind:    KindMalformedResponse,
			Message: fmt.Sprintf("cannot parse model response: %s", truncate(content, 200)),
			Err:     err,
		}
	}
	if v.Accent == "" || v.Explanation == "" {
		return nil, &Error{
			Kind:    KindMalformedResponse,
			Message: "model response is missing required fields",
		}
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 100 {
		v.Confidence = 100
	}
	return &v, nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
