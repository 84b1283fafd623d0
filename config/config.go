// Package config holds the server configuration, read either from CLI
// flags or from a YAML file with kebab-case keys mirroring the flags.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LlamaEdge/llama-api-server/prompt"
	"github.com/LlamaEdge/llama-api-server/registry"
)

// ModelConfig describes one ggml model. Optional numeric fields are
// pointers so that an absent key keeps the registry default.
type ModelConfig struct {
	Name           string   `yaml:"name"`
	Alias          string   `yaml:"alias"`
	PromptTemplate string   `yaml:"prompt-template"`
	CtxSize        *uint64  `yaml:"ctx-size"`
	BatchSize      *uint64  `yaml:"batch-size"`
	NPredict       *int64   `yaml:"n-predict"`
	NGPULayers     *uint64  `yaml:"n-gpu-layers"`
	Temperature    *float64 `yaml:"temp"`
	TopP           *float64 `yaml:"top-p"`
	RepeatPenalty  *float64 `yaml:"repeat-penalty"`
	ReversePrompt  string   `yaml:"reverse-prompt"`
	MMProj         string   `yaml:"mmproj"`
}

type Config struct {
	Addr       string `yaml:"addr"`
	ArchiveDir string `yaml:"archive-dir"`
	LogLevel   string `yaml:"log-level"`

	// Rag switches the server into rag mode; it needs both a chat
	// and an embedding model.
	Rag bool `yaml:"rag"`

	Chat      []ModelConfig `yaml:"chat"`
	Embedding []ModelConfig `yaml:"embedding"`

	WhisperModel string `yaml:"whisper-model"`
	TTSModel     string `yaml:"tts-model"`
	SDModel      string `yaml:"sd-model"`
}

func Default() Config {
	return Config{
		Addr:       "0.0.0.0:8080",
		ArchiveDir: "archives",
		LogLevel:   "info",
	}
}

// Load reads a YAML config file. Unknown keys are rejected so a typo
// does not silently fall back to a default.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if len(c.Chat) == 0 && len(c.Embedding) == 0 && c.WhisperModel == "" && c.TTSModel == "" && c.SDModel == "" {
		return errors.New("no models configured")
	}
	if c.Rag && (len(c.Chat) == 0 || len(c.Embedding) == 0) {
		return errors.New("rag mode needs both a chat and an embedding model")
	}
	for i := range c.Chat {
		if c.Chat[i].Name == "" {
			return fmt.Errorf("chat model %d has no name", i)
		}
		if c.Chat[i].PromptTemplate == "" {
			return fmt.Errorf("chat model %q has no prompt-template", c.Chat[i].Name)
		}
	}
	for i := range c.Embedding {
		if c.Embedding[i].Name == "" {
			return fmt.Errorf("embedding model %d has no name", i)
		}
	}
	return nil
}

// Metadata resolves the model configuration onto the registry
// defaults.
func (m ModelConfig) Metadata() (registry.GgmlMetadata, error) {
	meta := registry.DefaultGgmlMetadata()
	meta.ModelName = m.Name
	meta.ModelAlias = m.Alias
	if meta.ModelAlias == "" {
		meta.ModelAlias = m.Name
	}

	if m.PromptTemplate != "" {
		tt, err := prompt.Parse(m.PromptTemplate)
		if err != nil {
			return meta, fmt.Errorf("model %q: %w", m.Name, err)
		}
		meta.PromptTemplate = tt
	}

	if m.CtxSize != nil {
		meta.CtxSize = *m.CtxSize
	}
	if m.BatchSize != nil {
		meta.BatchSize = *m.BatchSize
	}
	if m.NPredict != nil {
		meta.NPredict = *m.NPredict
	}
	if m.NGPULayers != nil {
		meta.NGPULayers = *m.NGPULayers
	}
	if m.Temperature != nil {
		meta.Temperature = *m.Temperature
	}
	if m.TopP != nil {
		meta.TopP = *m.TopP
	}
	if m.RepeatPenalty != nil {
		meta.RepeatPenalty = *m.RepeatPenalty
	}
	meta.ReversePrompt = m.ReversePrompt
	meta.MMProj = m.MMProj

	return meta, nil
}

// ChatMetadata resolves every chat model entry.
func (c *Config) ChatMetadata() ([]registry.GgmlMetadata, error) {
	return resolve(c.Chat)
}

// EmbeddingMetadata resolves every embedding model entry.
func (c *Config) EmbeddingMetadata() ([]registry.GgmlMetadata, error) {
	return resolve(c.Embedding)
}

func resolve(models []ModelConfig) ([]registry.GgmlMetadata, error) {
	out := make([]registry.GgmlMetadata, 0, len(models))
	for _, m := range models {
		meta, err := m.Metadata()
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}
