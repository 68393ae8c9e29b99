package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML server configuration. Every field has a working
// default so an empty (or missing) file still boots a local instance.
type Config struct {
	// Listen is the HTTP listen address for the websocket frontend.
	Listen string `yaml:"listen"`

	// Model and MaxTokens configure the Claude generator.
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`

	// MemoryPath is the on-disk location of long-term memory. Empty
	// keeps everything in RAM.
	MemoryPath string `yaml:"memory_path"`

	// Embedder selects the embedding backend: "mock" or "openai".
	Embedder string `yaml:"embedder"`

	Recall struct {
		K         int     `yaml:"k"`
		Threshold float32 `yaml:"threshold"`
	} `yaml:"recall"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Listen:     ":1865",
		MemoryPath: "./long_term_memory",
		Embedder:   "mock",
	}
	cfg.Recall.K = 3
	cfg.Recall.Threshold = 0.7
	return cfg
}

// loadConfig reads the YAML file at path over the defaults. A missing
// file is fine; a malformed one is not.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
