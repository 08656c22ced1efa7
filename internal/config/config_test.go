package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Grading.AgreementThreshold; got != 0.75 {
		t.Errorf("AgreementThreshold = %v, want 0.75", got)
	}
	if got := cfg.Grading.CorrectThreshold; got != 0.8 {
		t.Errorf("CorrectThreshold = %v, want 0.8", got)
	}
	if len(cfg.Grading.Backends) != 3 {
		t.Errorf("len(Backends) = %d, want 3", len(cfg.Grading.Backends))
	}
	for _, b := range cfg.Grading.Backends {
		if _, ok := cfg.GetLLMProvider(b); !ok {
			t.Errorf("backend %q has no llm_providers entry", b)
		}
	}
	if cfg.Grading.FeedbackMaxTokens != 4096 {
		t.Errorf("FeedbackMaxTokens = %d, want 4096", cfg.Grading.FeedbackMaxTokens)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no backends", func(c *Config) { c.Grading.Backends = nil }, "grading.backends"},
		{"duplicate backend", func(c *Config) { c.Grading.Backends = []string{"a", "a"} }, "listed twice"},
		{"agreement too high", func(c *Config) { c.Grading.AgreementThreshold = 1.5 }, "agreement_threshold"},
		{"correct zero", func(c *Config) { c.Grading.CorrectThreshold = 0 }, "correct_threshold"},
		{"no ocr", func(c *Config) { c.Grading.OCR = "" }, "grading.ocr"},
		{"no embedder", func(c *Config) { c.Grading.Embedder = "" }, "grading.embedder"},
		{"no classifier", func(c *Config) { c.Grading.Classifier = "" }, "grading.classifier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("expands inside a URL", func(t *testing.T) {
		t.Setenv("TEST_HOST", "example.com")
		result := ResolveEnvVars("https://${TEST_HOST}/v1")
		if result != "https://example.com/v1" {
			t.Errorf("expected https://example.com/v1, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_GH_TOKEN", "gh-123")

	cfg := &Config{
		LLMProviders: map[string]ProviderCfg{
			"model-1": {Type: "github-models", APIKey: "${TEST_GH_TOKEN}", TimeoutSeconds: 30, Enabled: true},
		},
		ClassifierProviders: map[string]ProviderCfg{
			"tagger": {Type: "huggingface", BaseURL: "http://localhost:8080", Enabled: true},
		},
	}
	rc := cfg.ToProviderRegistryConfig()

	llm := rc.LLMProviders["model-1"]
	if llm.APIKey != "gh-123" {
		t.Errorf("APIKey = %q, want gh-123", llm.APIKey)
	}
	if llm.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", llm.Timeout)
	}
	if rc.ClassifierProviders["tagger"].BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", rc.ClassifierProviders["tagger"].BaseURL)
	}
	if rc.OCRProviders == nil || rc.EmbeddingProviders == nil {
		t.Error("empty sections should convert to empty maps")
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
grading:
  feedback_backend: "model-2"
  correct_threshold: 0.85
`)
		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Grading.FeedbackBackend != "model-2" {
			t.Errorf("FeedbackBackend = %q, want model-2", cfg.Grading.FeedbackBackend)
		}
		if cfg.Grading.CorrectThreshold != 0.85 {
			t.Errorf("CorrectThreshold = %v, want 0.85", cfg.Grading.CorrectThreshold)
		}
		// Untouched keys keep their defaults.
		if cfg.Grading.AgreementThreshold != DefaultAgreementThreshold {
			t.Errorf("AgreementThreshold = %v, want default", cfg.Grading.AgreementThreshold)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("ConfigFile() = %q, want %q", mgr.ConfigFile(), configFile)
		}
	})

	t.Run("missing file in search path uses defaults", func(t *testing.T) {
		mgr, err := NewManager("", t.TempDir())
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().Grading.OCR; got != "tesseract" {
			t.Errorf("OCR = %q, want tesseract", got)
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("GRADER_GRADING_EMBEDDER", "local")
		mgr, err := NewManager("", t.TempDir())
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().Grading.Embedder; got != "local" {
			t.Errorf("Embedder = %q, want local", got)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		configFile := writeConfig(t, "grading: [unterminated")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for invalid config file")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "grading:\n  workers: 2\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "grading:\n  workers: 2\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = mgr.Get().Grading.Workers
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "grading:\n  feedback_backend: \"model-1\"\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Grading.FeedbackBackend)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("grading:\n  feedback_backend: \"model-3\"\n"), 0o644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := lastValue.Load().(string); v == "model-3" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if v, _ := lastValue.Load().(string); v != "model-3" {
		t.Errorf("expected model-3, got %v", v)
	}
	if got := mgr.Get().Grading.FeedbackBackend; got != "model-3" {
		t.Errorf("Get() after reload = %q, want model-3", got)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("failed to load written defaults: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Grading.CorrectThreshold != DefaultCorrectThreshold {
		t.Errorf("CorrectThreshold = %v, want %v", cfg.Grading.CorrectThreshold, DefaultCorrectThreshold)
	}
	if p, ok := cfg.LLMProviders["model-1"]; !ok || p.APIKey != "${GITHUB_TOKEN}" {
		t.Errorf("model-1 = %+v, want GITHUB_TOKEN placeholder", p)
	}
}
