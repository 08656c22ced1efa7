package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/grader/internal/providers"
)

// EnvPrefix prefixes environment overrides, e.g. GRADER_GRADING_FEEDBACK_BACKEND.
const EnvPrefix = "GRADER"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// With no cfgFile, config.yaml is searched in "." and then searchPaths.
func NewManager(cfgFile string, searchPaths ...string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile, searchPaths); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string, searchPaths []string) error {
	v := cm.v
	defaults := DefaultConfig()
	v.SetDefault("llm_providers", defaults.LLMProviders)
	v.SetDefault("ocr_providers", defaults.OCRProviders)
	v.SetDefault("embedding_providers", defaults.EmbeddingProviders)
	v.SetDefault("classifier_providers", defaults.ClassifierProviders)

	// Grading defaults are set per key so env overrides reach Unmarshal.
	g := defaults.Grading
	for key, val := range map[string]any{
		"backends":                 g.Backends,
		"combiner":                 g.Combiner,
		"corrector":                g.Corrector,
		"feedback_backend":         g.FeedbackBackend,
		"ocr":                      g.OCR,
		"embedder":                 g.Embedder,
		"classifier":               g.Classifier,
		"agreement_threshold":      g.AgreementThreshold,
		"correct_threshold":        g.CorrectThreshold,
		"backend_timeout_seconds":  g.BackendTimeoutSeconds,
		"document_timeout_seconds": g.DocumentTimeoutSeconds,
		"answer_max_tokens":        g.AnswerMaxTokens,
		"feedback_max_tokens":      g.FeedbackMaxTokens,
		"feedback_max_words":       g.FeedbackMaxWords,
		"render_dpi":               g.RenderDPI,
		"workers":                  g.Workers,
		"skip_preprocess":          g.SkipPreprocess,
		"disable_topics":           g.DisableTopics,
		"prompts_dir":              g.PromptsDir,
	} {
		v.SetDefault("grading."+key, val)
	}

	// Environment variables with GRADER_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ConfigFile returns the config file in use, or "" when running on defaults.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys and base URLs.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	return providers.RegistryConfig{
		LLMProviders:        toProviderConfigs(c.LLMProviders),
		OCRProviders:        toProviderConfigs(c.OCRProviders),
		EmbeddingProviders:  toProviderConfigs(c.EmbeddingProviders),
		ClassifierProviders: toProviderConfigs(c.ClassifierProviders),
	}
}

func toProviderConfigs(in map[string]ProviderCfg) map[string]providers.ProviderConfig {
	out := make(map[string]providers.ProviderConfig, len(in))
	for name, p := range in {
		out[name] = providers.ProviderConfig{
			Type:      p.Type,
			Model:     p.Model,
			APIKey:    ResolveEnvVars(p.APIKey),
			BaseURL:   ResolveEnvVars(p.BaseURL),
			Language:  p.Language,
			RateLimit: p.RateLimit,
			Timeout:   time.Duration(p.TimeoutSeconds) * time.Second,
			Enabled:   p.Enabled,
		}
	}
	return out
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Grader configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export GITHUB_TOKEN=xxx GEMINI_API_KEY=xxx OPENROUTER_API_KEY=xxx
# The token classifier endpoint: export QA_CLASSIFIER_URL=https://... HF_TOKEN=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
