package model

import "time"

// ================ Config ================
type ConversationConfig struct {
	HistoryTurns       int `envconfig:"CONVERSATION_HISTORY_TURNS" default:"5"`
	MemorySnapshotSize int `envconfig:"MEMORY_SNAPSHOT_SIZE" default:"3"`
}

// RoutingConfig holds the tunable fan-out policy. A candidate is selected
// alongside the top category when its confidence is within ComparableMargin.
type RoutingConfig struct {
	Classifier       string        `envconfig:"ROUTING_CLASSIFIER" default:"llm"`
	DecisionLog      string        `envconfig:"ROUTING_DECISION_LOG"`
	MinConfidence    float64       `envconfig:"ROUTING_MIN_CONFIDENCE" default:"0.5"`
	ComparableMargin float64       `envconfig:"ROUTING_COMPARABLE_MARGIN" default:"0.2"`
	MaxFanout        int           `envconfig:"ROUTING_MAX_FANOUT" default:"3"`
	ChildTimeout     time.Duration `envconfig:"ROUTING_CHILD_TIMEOUT" default:"60s"`
}

type KnowledgeConfig struct {
	Dir           string        `envconfig:"KNOWLEDGE_DIR" default:"knowledge"`
	TopK          int           `envconfig:"KNOWLEDGE_TOP_K" default:"10"`
	MinScore      float64       `envconfig:"KNOWLEDGE_MIN_SCORE" default:"0.1"`
	Rebuild       bool          `envconfig:"KNOWLEDGE_REBUILD" default:"false"`
	SearchTimeout time.Duration `envconfig:"KNOWLEDGE_SEARCH_TIMEOUT" default:"5s"`
	ScopeToUser   bool          `envconfig:"KNOWLEDGE_SCOPE_TO_USER" default:"true"`
}

type MemoryConfig struct {
	Workers        uint          `envconfig:"MEMORY_WORKERS" default:"2"`
	QueueSize      uint          `envconfig:"MEMORY_QUEUE_SIZE" default:"128"`
	ExtractTimeout time.Duration `envconfig:"MEMORY_EXTRACT_TIMEOUT" default:"30s"`
	MaxFacts       int           `envconfig:"MEMORY_MAX_FACTS" default:"50"`
}

// BackendConfig bounds every generation call and configures the circuit breaker.
type BackendConfig struct {
	GenerationTimeout   time.Duration `envconfig:"BACKEND_GENERATION_TIMEOUT" default:"30s"`
	BreakerMinRequests  uint32        `envconfig:"BACKEND_BREAKER_MIN_REQUESTS" default:"5"`
	BreakerFailureRatio float64       `envconfig:"BACKEND_BREAKER_FAILURE_RATIO" default:"0.6"`
	BreakerOpenTimeout  time.Duration `envconfig:"BACKEND_BREAKER_OPEN_TIMEOUT" default:"30s"`
	BreakerInterval     time.Duration `envconfig:"BACKEND_BREAKER_INTERVAL" default:"60s"`
}

type ClassifierModelConfig struct {
	Model       string  `envconfig:"CLASSIFIER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"CLASSIFIER_MAX_TOKENS" default:"512"`
	Temperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" default:"0"`
}

type ResponderModelConfig struct {
	Model          string  `envconfig:"RESPONDER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int     `envconfig:"RESPONDER_MAX_TOKENS" default:"2000"`
	Temperature    float32 `envconfig:"RESPONDER_TEMPERATURE" default:"0.3"`
	ThinkingBudget int32   `envconfig:"RESPONDER_THINKING_BUDGET" default:"0"`
}

type MemoryModelConfig struct {
	Model       string  `envconfig:"MEMORY_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"MEMORY_MAX_TOKENS" default:"512"`
	Temperature float32 `envconfig:"MEMORY_TEMPERATURE" default:"0.1"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8000"`
	AllowedOrigins  []string      `envconfig:"HTTP_ALLOWED_ORIGINS" default:"http://localhost:3000,http://127.0.0.1:3000"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}
