package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RESEARCH_MAX_TOOL_CALLS", "")
	t.Setenv("RESEARCH_FETCH_TIMEOUT", "")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("RESEARCH_AGENT_TIMEOUT", "")
	t.Setenv("RESEARCH_SEARCH_TIMEOUT", "")
	t.Setenv("REQUEST_TIMEOUT", "")

	cfg := Load()

	assert.Equal(t, 5, cfg.Research.MaxToolCalls)
	assert.Equal(t, 8*time.Second, cfg.Research.FetchTimeout)
	assert.Equal(t, 45*time.Second, cfg.Research.AgentTimeout)
	assert.Equal(t, 10*time.Second, cfg.Research.SearchTimeout)
	assert.Equal(t, 4*time.Minute, cfg.RequestTimeout)
	assert.Equal(t, 12000, cfg.Research.ContextBudget)
	assert.Len(t, cfg.CORSOrigins, 2)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RESEARCH_MAX_TOOL_CALLS", "3")
	t.Setenv("RESEARCH_FETCH_TIMEOUT", "2s")
	t.Setenv("RESEARCH_FETCH_RPS", "1.5")
	t.Setenv("RESEARCH_AGENT_TIMEOUT", "20s")
	t.Setenv("RESEARCH_SEARCH_TIMEOUT", "3s")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3, cfg.Research.MaxToolCalls)
	assert.Equal(t, 2*time.Second, cfg.Research.FetchTimeout)
	assert.InDelta(t, 1.5, cfg.Research.FetchRPS, 0.001)
	assert.Equal(t, 20*time.Second, cfg.Research.AgentTimeout)
	assert.Equal(t, 3*time.Second, cfg.Research.SearchTimeout)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("RESEARCH_MAX_TOOL_CALLS", "-1")
	t.Setenv("RESEARCH_CONTEXT_BUDGET", "lots")
	t.Setenv("RESEARCH_LLM_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 5, cfg.Research.MaxToolCalls)
	assert.Equal(t, 12000, cfg.Research.ContextBudget)
	assert.Equal(t, 90*time.Second, cfg.Research.LLMTimeout)
}
