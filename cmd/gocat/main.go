// Command gocat runs the conversational core behind a websocket
// frontend: one socket per user, synchronous replies plus the user's
// notification queue pumped over the same connection.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cheshire-cat-ai/gocat/agent"
	"github.com/cheshire-cat-ai/gocat/engine"
	"github.com/cheshire-cat-ai/gocat/hooks"
	"github.com/cheshire-cat-ai/gocat/llm"
	"github.com/cheshire-cat-ai/gocat/memory"
	"github.com/cheshire-cat-ai/gocat/memory/embedder/mock"
	"github.com/cheshire-cat-ai/gocat/memory/embedder/openai"
	"github.com/cheshire-cat-ai/gocat/memory/store/chromem"
	"github.com/cheshire-cat-ai/gocat/tools"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "gocat",
		Short: "Conversational assistant core with three-tier vector memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "gocat.yml", "path to the YAML configuration file")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, configPath string) error {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	vectors, err := chromem.New(chromem.Config{
		Path:     cfg.MemoryPath,
		Embedder: embedder,
	})
	if err != nil {
		return err
	}

	client := anthropic.NewClient(option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
	generator := llm.NewClaude(&client, llm.ClaudeConfig{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})

	toolset := builtinTools()
	registry := hooks.NewChainRegistry()

	eng, err := engine.New(ctx, engine.Options{
		Vectors:  vectors,
		Embedder: embedder,
		Hooks:    registry,
		Agent:    agent.New(generator, toolset, agent.WithStreaming()),
		Tools:    toolset,
		Recall: memory.RecallOptions{
			K:         cfg.Recall.K,
			Threshold: cfg.Recall.Threshold,
		},
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := newServer(eng)
	log.Printf("[GOCAT] Listening on %s", cfg.Listen)
	return srv.run(cfg.Listen)
}

func buildEmbedder(cfg *Config) (memory.Embedder, error) {
	switch cfg.Embedder {
	case "", "mock":
		return mock.New(0), nil
	case "openai":
		return openai.New(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")})
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
}

// builtinTools is the out-of-the-box tool set. Plugins would normally
// contribute these through the registry.
func builtinTools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "get_the_time",
			Description: "Useful to get the current time when asked. Input is always null.",
			Docstring:   "Replies to \"what time is it\", \"get the clock\" and similar questions.",
			Fn: func(ctx context.Context, input string) (string, error) {
				return time.Now().Format(time.RFC1123), nil
			},
		},
	}
}
