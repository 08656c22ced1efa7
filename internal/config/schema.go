package config

import (
	"errors"
	"fmt"
)

// Thresholds used by the grading pipeline unless configured otherwise.
const (
	// DefaultAgreementThreshold is the minimum pairwise similarity for two
	// backend answers to count as agreeing.
	DefaultAgreementThreshold = 0.75

	// DefaultCorrectThreshold is the inclusive minimum similarity between a
	// student answer and its reference for a correct verdict.
	DefaultCorrectThreshold = 0.8
)

// Config holds grader configuration.
// Stored at: {home}/config.yaml
type Config struct {
	LLMProviders        map[string]ProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	OCRProviders        map[string]ProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	EmbeddingProviders  map[string]ProviderCfg `mapstructure:"embedding_providers" yaml:"embedding_providers"`
	ClassifierProviders map[string]ProviderCfg `mapstructure:"classifier_providers" yaml:"classifier_providers"`
	Grading             GradingCfg             `mapstructure:"grading" yaml:"grading"`
}

// ProviderCfg configures one provider instance.
type ProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"`                       // "openai", "github-models", "gemini", "ollama", "openrouter", "tesseract", "mistral-ocr", "huggingface"
	Model          string  `mapstructure:"model" yaml:"model,omitempty"`           // Model name (empty = provider default)
	APIKey         string  `mapstructure:"api_key" yaml:"api_key,omitempty"`       // API key (supports ${ENV_VAR} syntax)
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url,omitempty"`     // Endpoint override (supports ${ENV_VAR} syntax)
	Language       string  `mapstructure:"language" yaml:"language,omitempty"`     // OCR language (tesseract)
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"` // Requests per minute (LLM only)
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty"`
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
}

// GradingCfg selects providers for each pipeline stage and holds its tuning.
type GradingCfg struct {
	// Backends answer every question independently, in priority order.
	Backends        []string `mapstructure:"backends" yaml:"backends"`
	Combiner        string   `mapstructure:"combiner" yaml:"combiner"`
	Corrector       string   `mapstructure:"corrector" yaml:"corrector"` // empty disables grammar correction
	FeedbackBackend string   `mapstructure:"feedback_backend" yaml:"feedback_backend"`
	OCR             string   `mapstructure:"ocr" yaml:"ocr"`
	Embedder        string   `mapstructure:"embedder" yaml:"embedder"`
	Classifier      string   `mapstructure:"classifier" yaml:"classifier"`

	AgreementThreshold float64 `mapstructure:"agreement_threshold" yaml:"agreement_threshold"`
	CorrectThreshold   float64 `mapstructure:"correct_threshold" yaml:"correct_threshold"`

	BackendTimeoutSeconds  int `mapstructure:"backend_timeout_seconds" yaml:"backend_timeout_seconds"`
	DocumentTimeoutSeconds int `mapstructure:"document_timeout_seconds" yaml:"document_timeout_seconds"`
	AnswerMaxTokens        int `mapstructure:"answer_max_tokens" yaml:"answer_max_tokens"`
	FeedbackMaxTokens      int `mapstructure:"feedback_max_tokens" yaml:"feedback_max_tokens"`
	FeedbackMaxWords       int `mapstructure:"feedback_max_words" yaml:"feedback_max_words"`

	RenderDPI      int    `mapstructure:"render_dpi" yaml:"render_dpi"`
	Workers        int    `mapstructure:"workers" yaml:"workers"` // concurrent page rasterizations
	SkipPreprocess bool   `mapstructure:"skip_preprocess" yaml:"skip_preprocess"`
	DisableTopics  bool   `mapstructure:"disable_topics" yaml:"disable_topics"`
	PromptsDir     string `mapstructure:"prompts_dir" yaml:"prompts_dir,omitempty"` // optional <key>.tmpl overrides
}

// DefaultConfig returns configuration with sensible defaults.
// The three answer backends are different model families so their errors
// are independent.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]ProviderCfg{
			"model-1": {
				Type:    "github-models",
				Model:   "gpt-4o",
				APIKey:  "${GITHUB_TOKEN}",
				Enabled: true,
			},
			"model-2": {
				Type:    "gemini",
				Model:   "gemini-1.5-flash",
				APIKey:  "${GEMINI_API_KEY}",
				Enabled: true,
			},
			"model-3": {
				Type:      "openrouter",
				Model:     "meta-llama/llama-3.1-70b-instruct",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
			"local": {
				Type:    "ollama",
				Model:   "llama3",
				BaseURL: "http://localhost:11434",
				Enabled: false,
			},
		},
		OCRProviders: map[string]ProviderCfg{
			"tesseract": {
				Type:     "tesseract",
				Language: "eng",
				Enabled:  true,
			},
			"mistral": {
				Type:    "mistral-ocr",
				APIKey:  "${MISTRAL_API_KEY}",
				Enabled: true,
			},
		},
		EmbeddingProviders: map[string]ProviderCfg{
			"openai": {
				Type:    "github-models",
				Model:   "text-embedding-3-small",
				APIKey:  "${GITHUB_TOKEN}",
				Enabled: true,
			},
		},
		ClassifierProviders: map[string]ProviderCfg{
			"qa-tagger": {
				Type:    "huggingface",
				BaseURL: "${QA_CLASSIFIER_URL}",
				APIKey:  "${HF_TOKEN}",
				Enabled: true,
			},
		},
		Grading: GradingCfg{
			Backends:               []string{"model-1", "model-2", "model-3"},
			Combiner:               "model-1",
			Corrector:              "model-1",
			FeedbackBackend:        "model-1",
			OCR:                    "tesseract",
			Embedder:               "openai",
			Classifier:             "qa-tagger",
			AgreementThreshold:     DefaultAgreementThreshold,
			CorrectThreshold:       DefaultCorrectThreshold,
			BackendTimeoutSeconds:  60,
			DocumentTimeoutSeconds: 900,
			AnswerMaxTokens:        1024,
			FeedbackMaxTokens:      4096,
			FeedbackMaxWords:       400,
			RenderDPI:              300,
			Workers:                4,
		},
	}
}

// Validate checks the grading section for values the pipeline cannot run with.
func (c *Config) Validate() error {
	g := c.Grading
	var errs []error
	if len(g.Backends) == 0 {
		errs = append(errs, errors.New("grading.backends: at least one backend is required"))
	}
	seen := make(map[string]bool, len(g.Backends))
	for _, b := range g.Backends {
		if seen[b] {
			errs = append(errs, fmt.Errorf("grading.backends: %q listed twice", b))
		}
		seen[b] = true
	}
	if g.AgreementThreshold <= 0 || g.AgreementThreshold > 1 {
		errs = append(errs, fmt.Errorf("grading.agreement_threshold: %v not in (0, 1]", g.AgreementThreshold))
	}
	if g.CorrectThreshold <= 0 || g.CorrectThreshold > 1 {
		errs = append(errs, fmt.Errorf("grading.correct_threshold: %v not in (0, 1]", g.CorrectThreshold))
	}
	if g.OCR == "" {
		errs = append(errs, errors.New("grading.ocr: required"))
	}
	if g.Embedder == "" {
		errs = append(errs, errors.New("grading.embedder: required"))
	}
	if g.Classifier == "" {
		errs = append(errs, errors.New("grading.classifier: required"))
	}
	return errors.Join(errs...)
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
