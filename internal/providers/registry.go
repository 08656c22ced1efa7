package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry holds references to every configured capability: chat backends,
// OCR engines, embedders and token classifiers.
// It supports config-driven instantiation, hot-reload, and thread-safe access.
type Registry struct {
	mu          sync.RWMutex
	llmClients  map[string]LLMClient
	ocr         map[string]OCRProvider
	embedders   map[string]Embedder
	classifiers map[string]TokenClassifier

	// applied remembers the config each named provider was built from,
	// keyed by kind/name, so Reload only rebuilds what changed.
	applied map[string]ProviderConfig
	logger  *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients:  make(map[string]LLMClient),
		ocr:         make(map[string]OCRProvider),
		embedders:   make(map[string]Embedder),
		classifiers: make(map[string]TokenClassifier),
		applied:     make(map[string]ProviderConfig),
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
}

// RegisterOCR registers an OCR provider by name.
func (r *Registry) RegisterOCR(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr[name] = provider
}

// RegisterEmbedder registers an embedder by name.
func (r *Registry) RegisterEmbedder(name string, e Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[name] = e
}

// RegisterClassifier registers a token classifier by name.
func (r *Registry) RegisterClassifier(name string, c TokenClassifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = c
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("%w: LLM client %q", ErrNotFound, name)
	}
	return client, nil
}

// GetOCR returns an OCR provider by name.
func (r *Registry) GetOCR(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.ocr[name]
	if !ok {
		return nil, fmt.Errorf("%w: OCR provider %q", ErrNotFound, name)
	}
	return provider, nil
}

// GetEmbedder returns an embedder by name.
func (r *Registry) GetEmbedder(name string) (Embedder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.embedders[name]
	if !ok {
		return nil, fmt.Errorf("%w: embedder %q", ErrNotFound, name)
	}
	return e, nil
}

// GetClassifier returns a token classifier by name.
func (r *Registry) GetClassifier(name string) (TokenClassifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classifiers[name]
	if !ok {
		return nil, fmt.Errorf("%w: token classifier %q", ErrNotFound, name)
	}
	return c, nil
}

// HasLLM checks if an LLM client is registered.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.llmClients)
}

// ListOCR returns all registered OCR provider names, sorted.
func (r *Registry) ListOCR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.ocr)
}

// ListEmbedders returns all registered embedder names, sorted.
func (r *Registry) ListEmbedders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.embedders)
}

// ListClassifiers returns all registered classifier names, sorted.
func (r *Registry) ListClassifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.classifiers)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider kinds, used for config grouping and logging.
const (
	KindLLM        = "llm"
	KindOCR        = "ocr"
	KindEmbedding  = "embedding"
	KindClassifier = "classifier"
)

// ProviderConfig describes one provider instance with its API key resolved.
type ProviderConfig struct {
	Type      string  // "openai", "gemini", "ollama", "openrouter", "mistral-ocr", "tesseract", "huggingface"
	Model     string  // Model name (empty = provider default)
	APIKey    string  // Resolved API key
	BaseURL   string  // Endpoint override; required for huggingface
	Language  string  // OCR language (tesseract)
	RateLimit float64 // Requests per minute (LLM only, 0 = unlimited)
	Timeout   time.Duration
	Enabled   bool
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	LLMProviders        map[string]ProviderConfig
	OCRProviders        map[string]ProviderConfig
	EmbeddingProviders  map[string]ProviderConfig
	ClassifierProviders map[string]ProviderConfig
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers that have the credentials their type needs are registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers no longer configured are unregistered; providers whose settings
// changed are rebuilt; unchanged providers are left in place.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)

	reloadKind(r, KindLLM, cfg.LLMProviders, r.llmClients, want, createLLMClient)
	reloadKind(r, KindOCR, cfg.OCRProviders, r.ocr, want, createOCRProvider)
	reloadKind(r, KindEmbedding, cfg.EmbeddingProviders, r.embedders, want, createEmbedder)
	reloadKind(r, KindClassifier, cfg.ClassifierProviders, r.classifiers, want, createClassifier)

	for key := range r.applied {
		if !want[key] {
			delete(r.applied, key)
		}
	}
}

// reloadKind must be called with the registry lock held.
func reloadKind[T any](r *Registry, kind string, cfgs map[string]ProviderConfig, dst map[string]T, want map[string]bool, build func(ProviderConfig) (T, error)) {
	for name, pc := range cfgs {
		if !pc.Enabled || (requiresAPIKey(pc.Type) && pc.APIKey == "") {
			continue
		}
		key := kind + "/" + name
		want[key] = true

		_, exists := dst[name]
		if exists && r.applied[key] == pc {
			continue
		}

		p, err := build(pc)
		if err != nil {
			delete(want, key)
			if r.logger != nil {
				r.logger.Warn("skipping provider", "kind", kind, "name", name, "type", pc.Type, "error", err)
			}
			continue
		}
		dst[name] = p
		r.applied[key] = pc
		if r.logger != nil {
			if exists {
				r.logger.Info("updated provider", "kind", kind, "name", name, "type", pc.Type)
			} else {
				r.logger.Info("registered provider", "kind", kind, "name", name, "type", pc.Type)
			}
		}
	}

	for name := range dst {
		if !want[kind+"/"+name] {
			if _, managed := r.applied[kind+"/"+name]; !managed {
				// Registered by hand (tests, embedding programs); leave it.
				continue
			}
			delete(dst, name)
			if r.logger != nil {
				r.logger.Info("unregistered provider", "kind", kind, "name", name)
			}
		}
	}
}

func requiresAPIKey(providerType string) bool {
	switch providerType {
	case "ollama", "tesseract", "huggingface":
		return false
	default:
		return true
	}
}

func createLLMClient(cfg ProviderConfig) (LLMClient, error) {
	var client LLMClient
	switch cfg.Type {
	case "openai", "github-models":
		baseURL := cfg.BaseURL
		if baseURL == "" && cfg.Type == "github-models" {
			baseURL = GitHubModelsBaseURL
		}
		client = NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: baseURL,
			Timeout: cfg.Timeout,
		})
	case "gemini":
		client = NewGeminiClient(GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	case "ollama":
		c, err := NewOllamaClient(OllamaConfig{Model: cfg.Model, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		client = c
	case "openrouter":
		client = NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider type %q", cfg.Type)
	}
	return WithRateLimit(client, int(cfg.RateLimit)), nil
}

func createOCRProvider(cfg ProviderConfig) (OCRProvider, error) {
	switch cfg.Type {
	case "tesseract":
		return NewTesseractOCR(TesseractConfig{Language: cfg.Language, Timeout: cfg.Timeout}), nil
	case "mistral-ocr":
		return NewMistralOCRClient(MistralOCRConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown OCR provider type %q", cfg.Type)
	}
}

func createEmbedder(cfg ProviderConfig) (Embedder, error) {
	switch cfg.Type {
	case "openai", "github-models":
		baseURL := cfg.BaseURL
		if baseURL == "" && cfg.Type == "github-models" {
			baseURL = GitHubModelsBaseURL
		}
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: baseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "gemini":
		return NewGeminiEmbedder(GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model}), nil
	case "ollama":
		return NewOllamaEmbedder(OllamaConfig{Model: cfg.Model, BaseURL: cfg.BaseURL})
	default:
		return nil, fmt.Errorf("unknown embedding provider type %q", cfg.Type)
	}
}

func createClassifier(cfg ProviderConfig) (TokenClassifier, error) {
	switch cfg.Type {
	case "huggingface":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("huggingface classifier requires base_url")
		}
		return NewHFTokenClassifier(HFTokenClassifierConfig{
			URL:     cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider type %q", cfg.Type)
	}
}
