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
	"github.com/sahilkv/acpbridge/tools"
)

// tool-agent is the tool-capable agent process: like chat-agent, but model
// replies are scanned for embedded tool calls which run only after an
// approve_tool command arrives on the control channel.
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
	files := tools.NewFileManager(workspace, cfg.FilesystemAccess.Hidden, cfg.FilesystemAccess.ReadOnly)
	shell := tools.NewShell(cfg.AllowedCommands)
	dispatcher := tools.NewDispatcher(files, shell)

	store := session.NewStore(workspace, session.ToolsDirName)
	toolAgent := agent.NewToolAgent(client, store, dispatcher, cfg.Model, workspace)

	out := agent.NewEmitter(os.Stdout)
	if err := agent.Run(context.Background(), os.Stdin, out, toolAgent); err != nil {
		fmt.Fprintf(os.Stderr, "Tool agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}
