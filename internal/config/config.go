package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	Port           string
	LogLevel       string
	RequestTimeout time.Duration

	PostgresDSN    string
	MongoURI       string
	MongoDB        string
	RedisAddr      string
	RedisPassword  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	CORSOrigins    []string

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	SearchAPIKey string
	SearchURL    string

	Research ResearchConfig
}

// ResearchConfig bounds the research pipeline's use of external services.
type ResearchConfig struct {
	MaxToolCalls      int
	FetchConcurrency  int
	FetchTimeout      time.Duration
	FetchRPS          float64
	ContextBudget     int
	AgentTimeout      time.Duration
	SearchTimeout     time.Duration
	LLMTimeout        time.Duration
	LLMAttempts       int
	ThinContextChars  int
	DedupCacheTTL     time.Duration
	APIKeyCacheTTL    time.Duration
	SideEffectTimeout time.Duration
}

// Load reads a local .env if present, then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getenv("PORT", "8080"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		RequestTimeout: getduration("REQUEST_TIMEOUT", 4*time.Minute),
		PostgresDSN:    getenv("POSTGRES_DSN", ""),
		MongoURI:       getenv("MONGO_URI", ""),
		MongoDB:        getenv("MONGO_DB", "factcheck"),
		RedisAddr:      getenv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "factcheck-evidence"),
		MinioUseSSL:    getbool("MINIO_USE_SSL", false),
		CORSOrigins:    getlist("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		LLMAPIKey:      getenv("LLM_API_KEY", ""),
		LLMBaseURL:     getenv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMModel:       getenv("LLM_MODEL", "openai/gpt-4o-mini"),
		SearchAPIKey:   getenv("SEARCH_API_KEY", ""),
		SearchURL:      getenv("SEARCH_URL", "https://google.serper.dev/search"),
		Research: ResearchConfig{
			MaxToolCalls:      getint("RESEARCH_MAX_TOOL_CALLS", 5),
			FetchConcurrency:  getint("RESEARCH_FETCH_CONCURRENCY", 3),
			FetchTimeout:      getduration("RESEARCH_FETCH_TIMEOUT", 8*time.Second),
			FetchRPS:          getfloat("RESEARCH_FETCH_RPS", 4),
			ContextBudget:     getint("RESEARCH_CONTEXT_BUDGET", 12000),
			AgentTimeout:      getduration("RESEARCH_AGENT_TIMEOUT", 45*time.Second),
			SearchTimeout:     getduration("RESEARCH_SEARCH_TIMEOUT", 10*time.Second),
			LLMTimeout:        getduration("RESEARCH_LLM_TIMEOUT", 90*time.Second),
			LLMAttempts:       getint("RESEARCH_LLM_ATTEMPTS", 2),
			ThinContextChars:  getint("RESEARCH_THIN_CONTEXT_CHARS", 1500),
			DedupCacheTTL:     getduration("RESEARCH_DEDUP_CACHE_TTL", 7*24*time.Hour),
			APIKeyCacheTTL:    getduration("APIKEY_CACHE_TTL", 5*time.Minute),
			SideEffectTimeout: getduration("RESEARCH_SIDE_EFFECT_TIMEOUT", 30*time.Second),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getfloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func getbool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

func getduration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getenv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getlist(key string, fallback []string) []string {
	v := getenv(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
