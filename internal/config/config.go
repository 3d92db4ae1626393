package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	AdminUserID      int64  `env:"ADMIN_USER"`
	PrivateChannelID int64  `env:"PRIVATE_CHANNEL_ID"`

	// LLM settings
	LLMProvider    LLMProvider `env:"LLM_PROVIDER" envDefault:"gemini"`
	APIKeys        []string    `env:"API_KEYS" envSeparator:":"`
	Model          string      `env:"LLM_MODEL" envDefault:"gemini-2.5-flash"`
	Temperature    float64     `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	ThinkingBudget int32       `env:"LLM_THINKING_BUDGET" envDefault:"0"`
	OpenAIBaseURL  string      `env:"OPENAI_BASE_URL"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Resilience tuning
	CallTimeout    time.Duration `env:"CALL_TIMEOUT" envDefault:"55s"`
	ShortBackoff   time.Duration `env:"SHORT_BACKOFF" envDefault:"700ms"`
	LongBackoff    time.Duration `env:"LONG_BACKOFF" envDefault:"3s"`
	MaxHistory     int           `env:"MAX_HISTORY" envDefault:"40"`
	AbsenceGap     time.Duration `env:"ABSENCE_GAP" envDefault:"24h"`
	FlushInterval  time.Duration `env:"FLUSH_INTERVAL" envDefault:"1s"`
	StaleRetention time.Duration `env:"STALE_RETENTION" envDefault:"720h"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`

	// Storage
	MemoryFilePath string `env:"MEMORY_FILE_PATH" envDefault:"data/memory.json"`
	LogFilePath    string `env:"LOG_FILE_PATH" envDefault:"logs/log.jsonl"`

	// Keep-alive web endpoint
	Port             string `env:"PORT" envDefault:"3000"`
	ExternalHostname string `env:"RENDER_EXTERNAL_HOSTNAME"`

	// Formatting
	MessageParseMode string `env:"MESSAGE_PARSE_MODE" envDefault:"Markdown"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
