package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ayush/factcheck-agent/internal/models"
)

// LLMConfig controls calls to the research model.
type LLMConfig struct {
	Model    string
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

// LLMResearcher asks the reasoning model for a structured verdict.
type LLMResearcher struct {
	llm      ChatCompleter
	cfg      LLMConfig
	validate *validator.Validate
	log      *zap.Logger
}

func NewLLMResearcher(llm ChatCompleter, cfg LLMConfig, validate *validator.Validate, log *zap.Logger) *LLMResearcher {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if validate == nil {
		validate = NewValidator()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMResearcher{llm: llm, cfg: cfg, validate: validate, log: log}
}

// Research returns a verdict and the raw model replies. When the model is
// unreachable or answers malformed JSON twice, it returns the UNVERIFIABLE
// fallback verdict together with the error.
func (r *LLMResearcher) Research(ctx context.Context, in ResearchInput) (*Verdict, []string, error) {
	if r.llm == nil {
		err := errors.New("no reasoning capability configured")
		return FallbackVerdict(err), nil, err
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: researchSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: buildResearchPrompt(in)},
	}

	var (
		replies []string
		lastErr error
	)
	// The first reply plus one corrective retry.
	for round := 0; round < 2; round++ {
		reply, err := r.complete(ctx, msgs)
		if err != nil {
			err = fmt.Errorf("model unavailable: %w", err)
			return FallbackVerdict(err), replies, err
		}
		replies = append(replies, reply)

		v, err := ParseVerdict(r.validate, reply)
		if err == nil {
			return v, replies, nil
		}
		lastErr = err
		r.log.Warn("model reply rejected", zap.Int("round", round), zap.Error(err))
		msgs = append(msgs,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: correctivePrompt(err)},
		)
	}
	return FallbackVerdict(lastErr), replies, lastErr
}

// complete sends one chat request, retrying transport failures with
// exponential backoff.
func (r *LLMResearcher) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:          r.cfg.Model,
		Messages:       msgs,
		Temperature:    0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.Attempts; attempt++ {
		if attempt > 0 {
			wait := r.cfg.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		resp, err := r.llm.CreateChatCompletion(callCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			r.log.Warn("model call failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if !retryable(err) {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty completion")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

// retryable reports whether a model call error is worth another attempt.
// Client errors other than rate limiting are not.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// FallbackVerdict is the UNVERIFIABLE result used when the model could not
// produce a usable verdict.
func FallbackVerdict(cause error) *Verdict {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return &Verdict{
		Status:       models.StatusUnverifiable,
		Verdict:      "The statement could not be verified because automated research did not return a usable analysis.",
		ValidSources: "0 (research model unavailable)",
		Confidence:   0,
		KeyFindings:  []string{},
		Perspectives: []models.ExpertPerspective{{
			ExpertName:      "Research System",
			Stance:          models.StanceNeutral,
			Reasoning:       "Automated analysis failed: " + strings.TrimSpace(reason),
			ConfidenceLevel: 0,
			Summary:         "No expert analysis available for this statement.",
			SourceType:      models.SourceSystem,
			ExpertiseArea:   "System diagnostics",
		}},
	}
}
