// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport names.
const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"
)

// Lesson planner backends.
const (
	PlannerGenAI = "genai"
	PlannerGRPC  = "grpc"
	PlannerNone  = "none"
)

// Config holds all application configuration.
type Config struct {
	Port                string
	FrontendURL         string
	DBPath              string
	AbandonedSessionTTL time.Duration
	Realtime            RealtimeConfig
	LessonPlan          LessonPlanConfig
	Session             SessionConfig
	RateLimit           RateLimitConfig
	SSE                 SSEConfig
	ConversationLog     ConversationLogConfig
}

// RealtimeConfig selects and authenticates the conversational engine.
type RealtimeConfig struct {
	BaseURL            string
	APIKey             string
	Model              string
	Voice              string
	Transport          string
	TranscriptionModel string
}

// LessonPlanConfig selects the lesson-plan backend.
type LessonPlanConfig struct {
	Planner      string
	GeminiAPIKey string
	Model        string
	GRPCAddr     string
}

// SessionConfig holds the session timing policy.
type SessionConfig struct {
	MaxDuration           time.Duration
	RestartWindow         time.Duration
	BroadcastInterval     time.Duration
	ElapsedTick           time.Duration
	ResumeDelay           time.Duration
	TopicSelectionDisplay time.Duration
	WarnFar               time.Duration
	WarnNear              time.Duration
	WarnImminent          time.Duration
	IdleTTL               time.Duration
}

// RateLimitConfig limits session starts per learner.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig tunes the update stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	ReplayBufferSize   int
	MaxRequestBodySize int64
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", ""),
		DBPath:              getEnv("DB_PATH", "./data/tutor.db"),
		AbandonedSessionTTL: getEnvDuration("ABANDONED_SESSION_TTL", 2*time.Hour),
		Realtime: RealtimeConfig{
			BaseURL:            getEnv("REALTIME_BASE_URL", "https://api.openai.com"),
			APIKey:             getEnv("REALTIME_API_KEY", ""),
			Model:              getEnv("REALTIME_MODEL", "gpt-realtime"),
			Voice:              getEnv("REALTIME_VOICE", "verse"),
			Transport:          strings.ToLower(getEnv("REALTIME_TRANSPORT", TransportWebRTC)),
			TranscriptionModel: getEnv("REALTIME_TRANSCRIPTION_MODEL", "whisper-1"),
		},
		LessonPlan: LessonPlanConfig{
			Planner:      strings.ToLower(getEnv("LESSON_PLANNER", PlannerNone)),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			Model:        getEnv("LESSON_PLAN_MODEL", "gemini-2.5-flash"),
			GRPCAddr:     getEnv("LESSON_PLAN_GRPC_ADDR", "localhost:50051"),
		},
		Session: SessionConfig{
			MaxDuration:           getEnvDuration("SESSION_MAX_DURATION", 35*time.Minute),
			RestartWindow:         getEnvDuration("SESSION_RESTART_WINDOW", 5*time.Minute),
			BroadcastInterval:     getEnvDuration("TIME_BROADCAST_INTERVAL", 2*time.Minute),
			ElapsedTick:           getEnvDuration("ELAPSED_TICK", time.Second),
			ResumeDelay:           getEnvDuration("RESUME_DELAY", 500*time.Millisecond),
			TopicSelectionDisplay: getEnvDuration("TOPIC_SELECTION_DISPLAY", 4*time.Second),
			WarnFar:               getEnvDuration("TIME_WARN_FAR", 10*time.Minute),
			WarnNear:              getEnvDuration("TIME_WARN_NEAR", 5*time.Minute),
			WarnImminent:          getEnvDuration("TIME_WARN_IMMINENT", 2*time.Minute),
			IdleTTL:               getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 5),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			ReplayBufferSize:   getEnvInt("SSE_REPLAY_BUFFER_SIZE", 200),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // Flat list of independent checks.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Realtime.Transport {
	case TransportWebRTC, TransportWebSocket:
	default:
		return fmt.Errorf("REALTIME_TRANSPORT must be %q or %q, got %q", TransportWebRTC, TransportWebSocket, c.Realtime.Transport)
	}
	if c.Realtime.BaseURL == "" {
		return fmt.Errorf("REALTIME_BASE_URL cannot be empty")
	}
	switch c.LessonPlan.Planner {
	case PlannerNone:
	case PlannerGenAI:
		if c.LessonPlan.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LESSON_PLANNER=genai")
		}
	case PlannerGRPC:
		if c.LessonPlan.GRPCAddr == "" {
			return fmt.Errorf("LESSON_PLAN_GRPC_ADDR is required when LESSON_PLANNER=grpc")
		}
	default:
		return fmt.Errorf("LESSON_PLANNER must be genai, grpc or none, got %q", c.LessonPlan.Planner)
	}
	if c.Session.MaxDuration <= 0 {
		return fmt.Errorf("SESSION_MAX_DURATION must be > 0")
	}
	if c.Session.RestartWindow >= c.Session.MaxDuration {
		return fmt.Errorf("SESSION_RESTART_WINDOW must be shorter than SESSION_MAX_DURATION")
	}
	if !(c.Session.WarnFar > c.Session.WarnNear && c.Session.WarnNear > c.Session.WarnImminent && c.Session.WarnImminent > 0) {
		return fmt.Errorf("time warnings must satisfy TIME_WARN_FAR > TIME_WARN_NEAR > TIME_WARN_IMMINENT > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
