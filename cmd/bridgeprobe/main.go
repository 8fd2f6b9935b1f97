// bridgeprobe connects to a bridge and prints every status transition.
// Usage: go run ./cmd/bridgeprobe -address ws://robot.local:9090 -verbose
//
// Without -address it targets ws://<hostname>:9090. Press Ctrl+C to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/autobridge/internal/bridge"
	"github.com/rickgao/autobridge/internal/logging"
	"github.com/rickgao/autobridge/internal/reconnect"
	"github.com/rickgao/autobridge/internal/transport"
)

func main() {
	address := flag.String("address", "", "bridge address (default ws://<hostname>:9090)")
	reconnectTimeout := flag.Duration("reconnect-timeout", reconnect.DefaultReconnectTimeout, "delay before reconnecting after a close")
	transportName := flag.String("transport", transport.Gorilla, "websocket transport (gorilla, nhooyr)")
	encoding := flag.String("encoding", bridge.EncodingASCII, "frame encoding (ascii, utf8)")
	verbose := flag.Bool("verbose", false, "print inbound frames and debug logs")
	flag.Parse()

	// Setup logger
	level := "info"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(level, "text", os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mgr, err := reconnect.New(reconnect.Options{
		ReconnectTimeout: *reconnectTimeout,
		ConnectionOptions: map[string]any{
			"transport": *transportName,
			"encoding":  *encoding,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create reconnect manager", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	mgr.OnStatus(func(s reconnect.Status) {
		fmt.Printf("[%8s] %-10s %s\n", time.Since(start).Truncate(time.Millisecond), s, mgr.Address())
	})

	if client, ok := mgr.Conn().(*bridge.Client); ok && *verbose {
		client.OnMessage(func(data []byte) {
			fmt.Printf("[FRAME] %s\n", data)
		})
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := mgr.Stats()
				logger.Info("stats",
					"status", s.Status,
					"address", s.Address,
					"connect_attempts", s.ConnectAttempts,
					"scheduled_reconnects", s.ScheduledReconnects,
					"pending_reconnects", s.PendingReconnects,
				)
			}
		}
	}()

	mgr.Connect(*address)
	logger.Info("probing - press Ctrl+C to stop", "address", mgr.Address())

	// Wait for shutdown
	<-ctx.Done()

	mgr.Conn().Close()
	logger.Info("shutdown complete")
}
