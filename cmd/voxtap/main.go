// voxtap attaches to a running bridge as the observer: it prints every
// backend event the bridge mirrors and can push live session overrides.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "bridge host:port")
	voice := flag.String("voice", "", "push a voice override to all live sessions")
	instructions := flag.String("instructions", "", "push an instructions override to all live sessions")
	raw := flag.String("send", "", "send a raw JSON command to all open model channels")
	flag.Parse()

	url := fmt.Sprintf("ws://%s/v1/observer/ws", *addr)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", url, err)
		os.Exit(1)
	}
	defer conn.Close()

	if override := buildOverride(*voice, *instructions); override != nil {
		if err := conn.WriteJSON(override); err != nil {
			fmt.Fprintf(os.Stderr, "send override: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("override pushed")
	}
	if *raw != "" {
		if !json.Valid([]byte(*raw)) {
			fmt.Fprintln(os.Stderr, "-send expects valid JSON")
			os.Exit(1)
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(*raw)); err != nil {
			fmt.Fprintf(os.Stderr, "send command: %v\n", err)
			os.Exit(1)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fmt.Println(string(data))
	}
}

func buildOverride(voice, instructions string) map[string]any {
	session := map[string]any{}
	if voice != "" {
		session["voice"] = voice
	}
	if instructions != "" {
		session["instructions"] = instructions
	}
	if len(session) == 0 {
		return nil
	}
	return map[string]any{"type": "session.update", "session": session}
}
