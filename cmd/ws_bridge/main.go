package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"

	"github.com/gorilla/websocket"
)

// ws_bridge exposes an agent process's control channel over a WebSocket:
// each text frame becomes one command line on the agent's stdin, each
// stdout event line comes back as a frame, and stderr lines are wrapped so
// the front-end can show diagnostics separately.

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type stderrFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	cmdArgs := flag.Args()
	if len(cmdArgs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: ws_bridge [-addr :8080] <agent-command> [args...]")
		os.Exit(1)
	}

	http.HandleFunc("/ws", handleWS(cmdArgs))
	fmt.Printf("WebSocket bridge listening on ws://localhost%s/ws\n", *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}

func handleWS(cmdArgs []string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Upgrade error:", err)
			return
		}
		defer conn.Close()

		// One agent process per connection; it dies with the socket.
		cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			log.Println("Error getting stdin:", err)
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			log.Println("Error getting stdout:", err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			log.Println("Error getting stderr:", err)
			return
		}

		if err := cmd.Start(); err != nil {
			log.Println("Error starting agent:", err)
			return
		}
		defer func() {
			stdin.Close()
			cmd.Wait()
		}()

		// Agent event lines are already JSON; forward them verbatim.
		go func() {
			scanner := bufio.NewScanner(stdout)
			for scanner.Scan() {
				if err := conn.WriteMessage(websocket.TextMessage, scanner.Bytes()); err != nil {
					log.Println("WS write error:", err)
					return
				}
			}
		}()

		// Stderr diagnostics get wrapped so the front-end can tell them
		// apart from events.
		go func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				frame, err := json.Marshal(stderrFrame{Type: "stderr", Data: scanner.Text()})
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					log.Println("WS write error:", err)
					return
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Println("WS read error:", err)
				return
			}
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				log.Println("Stdin write error:", err)
				return
			}
		}
	}
}
