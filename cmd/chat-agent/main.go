package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/sahilkv/acpbridge/agent"
	"github.com/sahilkv/acpbridge/config"
	"github.com/sahilkv/acpbridge/llm"
	"github.com/sahilkv/acpbridge/session"
)

// chat-agent is the conversation-only agent process: NDJSON commands on
// stdin, event lines on stdout, diagnostics on stderr.
func main() {
	log.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	client, err := llm.New(context.Background(), cfg.LLMClient, cfg.OllamaHost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing LLM client: %+v\n", err)
		os.Exit(1)
	}

	workspace := cfg.DefaultWorkspace()
	store := session.NewStore(workspace, session.ChatDirName)
	chatAgent := agent.NewChatAgent(client, store, cfg.Model, workspace)

	out := agent.NewEmitter(os.Stdout)
	if err := agent.Run(context.Background(), os.Stdin, out, chatAgent); err != nil {
		fmt.Fprintf(os.Stderr, "Chat agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}
