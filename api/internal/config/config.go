package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"halluclean/api/internal/llm"
)

type Config struct {
	Port string `yaml:"port" validate:"required,numeric"`

	LLM struct {
		OpenAIAPIKey    string `yaml:"openai_api_key"`
		OpenAIBaseURL   string `yaml:"openai_base_url" validate:"omitempty,url"`
		DeepSeekAPIKey  string `yaml:"deepseek_api_key"`
		DeepSeekBaseURL string `yaml:"deepseek_base_url" validate:"omitempty,url"`
		GeminiAPIKey    string `yaml:"gemini_api_key"`

		// LocalURL points the "local"/"hf" tags at an OpenAI-compatible server.
		LocalURL   string `yaml:"local_url" validate:"omitempty,url"`
		LocalModel string `yaml:"local_model"`

		Models struct {
			ChatGPT   string `yaml:"chatgpt"`
			GPT4o     string `yaml:"gpt4o"`
			GPT4oMini string `yaml:"gpt4o_mini"`
			DeepSeek  string `yaml:"deepseek"`
			Gemini    string `yaml:"gemini"`
		} `yaml:"models"`

		DetectModel  string        `yaml:"detect_model" validate:"required,modeltag"`
		ReviseModel  string        `yaml:"revise_model" validate:"omitempty,modeltag"`
		Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
		MaxNewTokens int           `yaml:"max_new_tokens" validate:"gte=1"`
	} `yaml:"llm"`

	Prompts struct {
		Dir string `yaml:"dir"`
	} `yaml:"prompts"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Telegram struct {
		Token      string `yaml:"token"`
		WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
	} `yaml:"telegram"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=text json"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.Port = "8000"
	cfg.LLM.OpenAIBaseURL = llm.DefaultOpenAIBaseURL
	cfg.LLM.DeepSeekBaseURL = llm.DefaultDeepSeekBaseURL
	cfg.LLM.Models.ChatGPT = llm.BackendChatGPT.DefaultModel()
	cfg.LLM.Models.GPT4o = llm.BackendGPT4o.DefaultModel()
	cfg.LLM.Models.GPT4oMini = llm.BackendGPT4oMini.DefaultModel()
	cfg.LLM.Models.DeepSeek = llm.BackendDeepSeek.DefaultModel()
	cfg.LLM.Models.Gemini = llm.BackendGemini.DefaultModel()
	cfg.LLM.DetectModel = "chatgpt"
	cfg.LLM.Timeout = llm.DefaultTimeout
	cfg.LLM.MaxNewTokens = llm.DefaultMaxNewTokens
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load builds the configuration from defaults, then the YAML file at path
// (a missing file is not an error), then the environment. Credentials are
// not checked here; a call to a backend without its key fails on its own.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func applyEnv(cfg *Config) error {
	cfg.Port = getEnv("PORT", cfg.Port)

	cfg.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.LLM.OpenAIBaseURL)
	cfg.LLM.DeepSeekAPIKey = getEnv("DEEPSEEK_API_KEY", cfg.LLM.DeepSeekAPIKey)
	cfg.LLM.DeepSeekBaseURL = getEnv("DEEPSEEK_BASE_URL", cfg.LLM.DeepSeekBaseURL)
	cfg.LLM.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.LLM.GeminiAPIKey)
	cfg.LLM.LocalURL = getEnv("HALLUCLEAN_LOCAL_URL", cfg.LLM.LocalURL)
	cfg.LLM.LocalModel = getEnv("HALLUCLEAN_LOCAL_MODEL", cfg.LLM.LocalModel)

	cfg.LLM.Models.ChatGPT = getEnv("HALLUCLEAN_CHATGPT_MODEL", cfg.LLM.Models.ChatGPT)
	cfg.LLM.Models.GPT4o = getEnv("HALLUCLEAN_GPT4O_MODEL", cfg.LLM.Models.GPT4o)
	cfg.LLM.Models.GPT4oMini = getEnv("HALLUCLEAN_GPT4O_MINI_MODEL", cfg.LLM.Models.GPT4oMini)
	cfg.LLM.Models.DeepSeek = getEnv("HALLUCLEAN_DEEPSEEK_MODEL", cfg.LLM.Models.DeepSeek)
	cfg.LLM.Models.Gemini = getEnv("HALLUCLEAN_GEMINI_MODEL", cfg.LLM.Models.Gemini)

	cfg.LLM.DetectModel = getEnv("HALLUCLEAN_DETECT_MODEL", cfg.LLM.DetectModel)
	cfg.LLM.ReviseModel = getEnv("HALLUCLEAN_REVISE_MODEL", cfg.LLM.ReviseModel)

	if v := getEnv("HALLUCLEAN_TIMEOUT", ""); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("HALLUCLEAN_TIMEOUT: %w", err)
		}
		cfg.LLM.Timeout = d
	}
	if v := getEnv("HALLUCLEAN_MAX_NEW_TOKENS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HALLUCLEAN_MAX_NEW_TOKENS: %w", err)
		}
		cfg.LLM.MaxNewTokens = n
	}

	cfg.Prompts.Dir = getEnv("PROMPT_DIR", cfg.Prompts.Dir)
	cfg.Database.DSN = getEnv("DATABASE_URL", cfg.Database.DSN)
	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.WebhookURL = getEnv("WEBHOOK_URL", cfg.Telegram.WebhookURL)
	cfg.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(getEnv("LOG_FORMAT", cfg.Log.Format))
	return nil
}

// parseTimeout accepts a Go duration ("90s") or a plain number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("modeltag", func(fl validator.FieldLevel) bool {
		_, err := llm.ParseBackend(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks structural constraints: numeric port, positive timeout,
// known model tags, sane log settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// LocalGenerator returns the generator behind the "local" tag, or nil when
// no local server is configured.
func (c *Config) LocalGenerator() llm.Generator {
	if c.LLM.LocalURL == "" {
		return nil
	}
	return llm.NewServerGenerator(llm.NewOpenAIClient("", c.LLM.LocalURL), c.LLM.LocalModel)
}

// LLMSettings is the gateway view of the configuration.
func (c *Config) LLMSettings() llm.Settings {
	return llm.Settings{
		OpenAIAPIKey:    c.LLM.OpenAIAPIKey,
		OpenAIBaseURL:   c.LLM.OpenAIBaseURL,
		DeepSeekAPIKey:  c.LLM.DeepSeekAPIKey,
		DeepSeekBaseURL: c.LLM.DeepSeekBaseURL,
		GeminiAPIKey:    c.LLM.GeminiAPIKey,
		Models: map[llm.Backend]string{
			llm.BackendChatGPT:   c.LLM.Models.ChatGPT,
			llm.BackendGPT4o:     c.LLM.Models.GPT4o,
			llm.BackendGPT4oMini: c.LLM.Models.GPT4oMini,
			llm.BackendDeepSeek:  c.LLM.Models.DeepSeek,
			llm.BackendGemini:    c.LLM.Models.Gemini,
		},
		Timeout: c.LLM.Timeout,
	}
}
