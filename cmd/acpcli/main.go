package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sahilkv/acpbridge/acp"
	"github.com/sahilkv/acpbridge/config"
	"github.com/sahilkv/acpbridge/tools"
)

// sessionUpdate is the subset of session/update payloads the CLI renders.
type sessionUpdate struct {
	Update struct {
		SessionUpdate string `json:"sessionUpdate"`
		Content       struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"update"`
}

func main() {
	traceFlag := flag.Bool("trace", false, "Enable protocol tracing to troubleshoot issues")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	workspace := cfg.DefaultWorkspace()
	files := tools.NewFileManager(workspace, cfg.FilesystemAccess.Hidden, cfg.FilesystemAccess.ReadOnly)

	client := acp.NewClient(cfg.AdapterCmd(), workspace, cfg.UsesAPIKey(), files)
	if *traceFlag {
		traceFile, err := os.Create("acpcli_trace.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating trace file: %+v\n", err)
			os.Exit(1)
		}
		defer traceFile.Close()
		client.SetTrace(traceFile)
	}
	client.OnSessionUpdate = func(params json.RawMessage) {
		var u sessionUpdate
		if err := json.Unmarshal(params, &u); err != nil {
			return
		}
		switch u.Update.SessionUpdate {
		case "agent_message_chunk":
			fmt.Print(u.Update.Content.Text)
		case "agent_thought_chunk":
			// Thoughts stay off the transcript.
		default:
		}
	}

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting adapter: %+v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	needsLogin, err := client.Initialize(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %+v\n", err)
		os.Exit(1)
	}
	if needsLogin {
		fmt.Println("The agent requires login. Complete the login flow, then press Enter.")
		bufio.NewReader(os.Stdin).ReadString('\n')
		if err := client.Authenticate(ctx, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Error authenticating: %+v\n", err)
			os.Exit(1)
		}
	}

	if err := client.CreateSession(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating session: %+v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Session %s ready. Type a prompt, or /mode <id>, /cancel, /quit.\n", client.SessionID())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			return
		case line == "/cancel":
			client.CancelCurrentPrompt()
		case strings.HasPrefix(line, "/mode"):
			modeID := strings.TrimSpace(strings.TrimPrefix(line, "/mode"))
			if modeID == "" {
				if m := client.Modes(); m != nil {
					fmt.Printf("Current mode: %s\n", m.CurrentModeID)
				} else {
					fmt.Println("The agent reported no modes.")
				}
				continue
			}
			if err := client.SetMode(ctx, modeID); err != nil {
				fmt.Fprintf(os.Stderr, "Error setting mode: %+v\n", err)
			}
		default:
			stopReason, err := client.SendPrompt(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Prompt failed: %+v\n", err)
				continue
			}
			fmt.Printf("\n[%s]\n", stopReason)
		}
	}
}
