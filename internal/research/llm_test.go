package research

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayush/factcheck-agent/internal/models"
)

const minimalReply = `{"status":"TRUE","verdict":"Accurate.","confidence_score":90,
	"expert_perspectives":[{"expert_name":"Analyst","stance":"SUPPORTING","confidence_level":90,"reasoning":"Matches CBO."}]}`

func newTestResearcher(chat ChatCompleter) *LLMResearcher {
	return NewLLMResearcher(chat, LLMConfig{Model: "m", Attempts: 2, Backoff: time.Millisecond, Timeout: time.Second}, NewValidator(), zap.NewNop())
}

func testInput() ResearchInput {
	return ResearchInput{
		Request: models.ResearchRequest{
			Statement: "The bill cuts Medicaid",
			Source:    "Senator X",
			Datetime:  time.Date(2025, 6, 7, 15, 22, 28, 0, time.UTC),
		},
		WebContext: NoContentMarker,
	}
}

func TestResearchCorrectiveRetry(t *testing.T) {
	chat := &fakeChat{script: []chatStep{textReply("Sure! The statement is true."), textReply(minimalReply)}}

	v, replies, err := newTestResearcher(chat).Research(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrue, v.Status)
	assert.Len(t, replies, 2)

	require.Len(t, chat.requests, 2)
	retry := chat.requests[1].Messages
	require.Len(t, retry, 4)
	assert.Equal(t, openai.ChatMessageRoleAssistant, retry[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, retry[3].Role)
	assert.Contains(t, chat.requests[0].Messages[1].Content, "WEB EXTRACTION FAILED")
}

func TestResearchFallsBackAfterTwoBadReplies(t *testing.T) {
	chat := &fakeChat{script: []chatStep{textReply("nope"), textReply(`{"status":"MAYBE"}`)}}

	v, replies, err := newTestResearcher(chat).Research(context.Background(), testInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	assert.Len(t, replies, 2)

	assert.Equal(t, models.StatusUnverifiable, v.Status)
	assert.Nil(t, v.Correction)
	assert.Zero(t, v.Confidence)
	require.Len(t, v.Perspectives, 1)
	assert.Equal(t, models.SourceSystem, v.Perspectives[0].SourceType)
	assert.True(t, strings.HasPrefix(v.Perspectives[0].Reasoning, "Automated analysis failed"))
}

func TestResearchRetriesTransportErrors(t *testing.T) {
	chat := &fakeChat{script: []chatStep{
		chatError(&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}),
		textReply(minimalReply),
	}}

	v, _, err := newTestResearcher(chat).Research(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrue, v.Status)
	assert.Equal(t, 2, chat.calls())
}

func TestResearchDoesNotRetryClientErrors(t *testing.T) {
	chat := &fakeChat{script: []chatStep{chatError(&openai.APIError{HTTPStatusCode: 401, Message: "bad key"})}}

	v, _, err := newTestResearcher(chat).Research(context.Background(), testInput())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrParse))
	assert.Equal(t, 1, chat.calls())
	assert.Equal(t, models.StatusUnverifiable, v.Status)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&openai.APIError{HTTPStatusCode: 429}))
	assert.True(t, retryable(&openai.RequestError{HTTPStatusCode: 502}))
	assert.False(t, retryable(&openai.APIError{HTTPStatusCode: 400}))
	assert.False(t, retryable(context.Canceled))
	assert.True(t, retryable(errors.New("connection reset")))
}
