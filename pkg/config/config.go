package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel API keys and LLM provider choices.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the configuration for the primary LLM provider in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// SystemPrompt is the global persona/instruction string sent to the AI
	// as the initial system message in every conversation.
	SystemPrompt string `json:"system_prompt"`
}

// DeepCopy creates a shallow copy of Config.
// Since Channels is a map, we need to clone the map itself.
func (c *Config) DeepCopy() *Config {
	newCfg := *c
	if c.Channels != nil {
		newCfg.Channels = make(map[string]jsoniter.RawMessage)
		for k, v := range c.Channels {
			newCfg.Channels[k] = v
		}
	}
	return &newCfg
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the Genesis engine.
type SystemConfig struct {
	// MaxRetries is the number of times the system will attempt to
	// recover from a transient LLM or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the duration to wait (in milliseconds) between
	// consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`

	// Of the fields from LLMTimeoutMs through HistoryMaxTokens, only
	// DebugChunks (read by pkg/llm's StreamDebugger) and LogLevel (read at
	// startup) are used; the others are parsed from system.json but no
	// component reads them.

	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for an
	// LLM request. The context will be cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream chunks to prevent production blocking.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ThinkingInitDelayMs is the time to wait (in milliseconds) after a
	// user message before showing the "AI is thinking" status in the UI.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching external media or files (e.g., from Telegram servers).
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// ShowThinking determines whether the AI's internal reasoning process (thinking blocks)
	// should be streamed and displayed to the end user.
	ShowThinking bool `json:"show_thinking"`
	// DebugChunks enables saving every raw LLM response chunk to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles the tool calling (agentic) functionality.
	// If false, the AI will not be provided with any external tools/capabilities.
	EnableTools bool `json:"enable_tools"`
	// HistorySummarizeThreshold is the number of messages after which summarization is triggered.
	HistorySummarizeThreshold int `json:"history_summarize_threshold"`
	// HistoryKeepRecentCount is the number of messages to keep in history after summarization.
	HistoryKeepRecentCount int `json:"history_keep_recent_count"`
	// HistoryMaxChars is the character limit for the conversation history before triggering summarization.
	HistoryMaxChars int `json:"history_max_chars"`
	// HistoryMaxTokens is the token limit for the conversation history before triggering summarization.
	// This uses the actual usage reported by the LLM.
	HistoryMaxTokens int `json:"history_max_tokens"`

	// --- gateway pipeline tuning ---

	// DedupWindowSeconds is how long a message_id is remembered by the deduplicator.
	DedupWindowSeconds int `json:"dedup_window_seconds"`
	// FloodGateWindowSeconds is the debounce window for the flood-gate batcher.
	FloodGateWindowSeconds float64 `json:"flood_gate_window_seconds"`
	// TaskQueueCapacity bounds the number of tasks pending dequeue.
	TaskQueueCapacity int `json:"task_queue_capacity"`
	// TaskHistoryCapacity bounds the number of terminal tasks retained for inspection.
	TaskHistoryCapacity int `json:"task_history_capacity"`
	// WorkerCount is the number of concurrent task-queue workers.
	WorkerCount int `json:"worker_count"`
	// TypingIntervalMs is how often the worker re-emits a typing indicator while processing.
	TypingIntervalMs int `json:"typing_interval_ms"`
	// SenderChunkSize is the max rune length of a single outbound message chunk.
	SenderChunkSize int `json:"sender_chunk_size"`
	// SenderChunkDelayMs is the delay between successive chunks of one reply.
	SenderChunkDelayMs int `json:"sender_chunk_delay_ms"`
	// SenderTimeoutMs bounds a single outbound send call.
	SenderTimeoutMs int `json:"sender_timeout_ms"`
	// MaxConflicts bounds the pending-conflict queue.
	MaxConflicts int `json:"max_conflicts"`
	// MemoryWriteRetries bounds the exponential-backoff retry loop on store contention.
	MemoryWriteRetries int `json:"memory_write_retries"`
	// MemoryWriteBackoffMs is the base delay for the memory-write retry loop.
	MemoryWriteBackoffMs int `json:"memory_write_backoff_ms"`
	// VectorDimension is the fixed embedding dimension expected of all stored vectors.
	VectorDimension int `json:"vector_dimension"`
	// GreetingSet is the frozen set of greeting/acknowledgement strings the
	// complexity classifier treats as an automatic "fast" path. Language
	// dependent; overridable per deployment (see spec Open Questions).
	GreetingSet []string `json:"greeting_set"`
	// WorkspaceDir is the root directory for persistent state (db/, conflicts.json, etc).
	WorkspaceDir string `json:"workspace_dir"`
	// ServerHost/ServerPort bind the HTTP ingress.
	ServerHost string `json:"server_host"`
	ServerPort int    `json:"server_port"`
	// SharedSecret, when non-empty, is checked against the x-api-key header.
	SharedSecret string `json:"shared_secret"`
	// CORSOrigins is a comma-separated allow-list for the HTTP ingress.
	CORSOrigins string `json:"cors_origins"`
	// BridgeToken gates the /whatsapp/loop-test diagnostic endpoint via the
	// x-bridge-token header.
	BridgeToken string `json:"bridge_token"`
	// DefaultPersona names the persona layer used when a chat isn't routed
	// to a recognized persona-scoped endpoint.
	DefaultPersona string `json:"default_persona"`
	// Personas lists the persona names the POST /chat/<persona> endpoint
	// will recognize.
	Personas []string `json:"personas"`

	// EmbedAPIKey/EmbedBaseURL/EmbedModel configure the embedding client
	// backing the vector store.
	EmbedAPIKey  string `json:"embed_api_key"`
	EmbedBaseURL string `json:"embed_base_url"`
	EmbedModel   string `json:"embed_model"`

	// SenderCLIPath/SenderChannel configure the outbound message sender.
	SenderCLIPath string `json:"sender_cli_path"`
	SenderChannel string `json:"sender_channel"`
}

// EnvOverrides holds values recognized from the process environment, read
// once at startup. ApplyEnvOverrides copies SERVER_HOST, SERVER_PORT,
// CORS_ORIGINS, WHATSAPP_BRIDGE_TOKEN and the EMBEDDING_* values into
// SystemConfig where system.json leaves the field unset (see its comment).
// API_BIND_HOST, OPENCLAW_GATEWAY_URL, OPENCLAW_GATEWAY_TOKEN,
// GEMINI_API_KEY and WINDOWS_PC_IP are parsed but not applied to any
// setting, and take no part in choosing the LLM client.
type EnvOverrides struct {
	ServerHost        string `env:"SERVER_HOST"`
	ServerPort        int    `env:"SERVER_PORT"`
	APIBindHost       string `env:"API_BIND_HOST"`
	GatewayURL        string `env:"OPENCLAW_GATEWAY_URL"`
	GatewayToken      string `env:"OPENCLAW_GATEWAY_TOKEN"`
	GeminiAPIKey      string `env:"GEMINI_API_KEY"`
	BridgeToken       string `env:"WHATSAPP_BRIDGE_TOKEN"`
	WindowsPCIP       string `env:"WINDOWS_PC_IP"`
	CORSOrigins       string `env:"CORS_ORIGINS"`
	EmbedAPIKey       string `env:"EMBEDDING_API_KEY"`
	EmbedBaseURL      string `env:"EMBEDDING_BASE_URL"`
}

// DeepCopy creates a full copy of SystemConfig.
func (s *SystemConfig) DeepCopy() *SystemConfig {
	newSys := *s
	return &newSys
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded safe defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:                3,
		RetryDelayMs:              500,
		LLMTimeoutMs:              600000,
		OllamaDefaultURL:          "http://localhost:11434/v1",
		InternalChannelBuffer:     100,
		ThinkingInitDelayMs:       500,
		TelegramMessageLimit:      4000,
		DownloadTimeoutMs:         10000,
		ShowThinking:              true,
		LogLevel:                  "info",
		EnableTools:               true,
		HistorySummarizeThreshold: 10,
		HistoryKeepRecentCount:    5,
		HistoryMaxChars:           10000,
		HistoryMaxTokens:          4000,

		DedupWindowSeconds:     300,
		FloodGateWindowSeconds: 3.0,
		TaskQueueCapacity:      100,
		TaskHistoryCapacity:    500,
		WorkerCount:            2,
		TypingIntervalMs:       4000,
		SenderChunkSize:        4000,
		SenderChunkDelayMs:     800,
		SenderTimeoutMs:        30000,
		MaxConflicts:           20,
		MemoryWriteRetries:     5,
		MemoryWriteBackoffMs:   100,
		VectorDimension:        1536,
		GreetingSet:            []string{"hi", "hello", "hey", "ok", "okay", "lol", "thanks", "thank you", "sup", "yo"},
		WorkspaceDir:           ".",
		ServerHost:             "0.0.0.0",
		ServerPort:             8000,
		DefaultPersona:         "default",
		EmbedModel:             "text-embedding-3-small",
		SenderChannel:          "web",
	}
}

// LoadEnvOverrides parses recognized environment variables via caarlos0/env.
// It never errors hard: a parse failure just yields zero-value overrides so
// boot never fails on an optional environment variable.
func LoadEnvOverrides() *EnvOverrides {
	var e EnvOverrides
	if err := env.Parse(&e); err != nil {
		slog.Warn("failed to parse environment overrides", "error", err)
	}
	return &e
}

// ApplyEnvOverrides fills SystemConfig fields that are zero-valued or still
// at their DefaultSystemConfig value from env, leaving any other value set
// by system.json untouched.
func (s *SystemConfig) ApplyEnvOverrides(e *EnvOverrides) {
	def := DefaultSystemConfig()
	if (s.ServerHost == "" || s.ServerHost == def.ServerHost) && e.ServerHost != "" {
		s.ServerHost = e.ServerHost
	}
	if (s.ServerPort == 0 || s.ServerPort == def.ServerPort) && e.ServerPort != 0 {
		s.ServerPort = e.ServerPort
	}
	if s.CORSOrigins == "" && e.CORSOrigins != "" {
		s.CORSOrigins = e.CORSOrigins
	}
	if s.BridgeToken == "" && e.BridgeToken != "" {
		s.BridgeToken = e.BridgeToken
	}
	if s.EmbedAPIKey == "" && e.EmbedAPIKey != "" {
		s.EmbedAPIKey = e.EmbedAPIKey
	}
	if s.EmbedBaseURL == "" && e.EmbedBaseURL != "" {
		s.EmbedBaseURL = e.EmbedBaseURL
	}
}

// Load reads and parses the JSON configuration files and returns configuration objects.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")
	sysCfg.ApplyEnvOverrides(LoadEnvOverrides())

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}
