package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/afroash/envdash/internal/client"
	"github.com/afroash/envdash/internal/tui"
)

func main() {
	url := flag.String("url", "ws://localhost:8081/ws", "dashboard WebSocket URL")
	logFile := flag.String("log", "", "write connection logs to this file")
	flag.Parse()

	// The terminal belongs to the UI, so logs go to a file or nowhere
	var w io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	logger := zerolog.New(w).With().Timestamp().Str("component", "dashtui").Logger()

	conn := client.NewConnection(client.DefaultConnectionConfig(*url), logger)
	p := tea.NewProgram(tui.New(conn, *url), tea.WithAltScreen())
	conn.SetHandler(tui.Forward(p))

	ctx, cancel := context.WithCancel(context.Background())
	go conn.Run(ctx)

	_, err := p.Run()
	cancel()
	conn.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dashtui: %v\n", err)
		os.Exit(1)
	}
}
