package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jarto666/scriptforge/internal/client"
	"github.com/jarto666/scriptforge/internal/events"
	"github.com/jarto666/scriptforge/internal/logger"
)

// watch follows one batch's live event stream from a terminal: progress lines
// as scripts finish, a toast when any other followed batch completes, and exit
// once the watched batch reaches its terminal state.
func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "warn",
		Format:      "text",
		ServiceName: "scriptforge-watch",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	url := flag.String("url", "ws://localhost:8080/ws", "Gateway websocket URL")
	batchID := flag.String("batch", "", "Batch ID to follow")
	retries := flag.Int("retries", 5, "Reconnection attempts after a drop")
	retryDelay := flag.Duration("retry-delay", 2*time.Second, "Delay between reconnection attempts")
	flag.Parse()

	if *batchID == "" {
		fmt.Fprintln(os.Stderr, "usage: watch -batch <batch-id> [-url ws://host:port/ws]")
		os.Exit(2)
	}

	c := client.New(client.Config{
		URL:        *url,
		MaxRetries: *retries,
		RetryDelay: *retryDelay,
		Notifier: client.NotifierFunc(func(n client.Notification) {
			fmt.Printf("\n[toast] batch %s finished: %d completed, %d failed (%s)\n",
				n.BatchID, n.CompletedScripts, n.FailedScripts, n.Link)
		}),
		OnConnect:    func() { fmt.Println("connected") },
		OnDisconnect: func() { fmt.Println("disconnected") },
		OnConnectError: func(err error) {
			fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		},
		Logger: appLogger,
	})

	done := make(chan struct{})

	c.Mux().SetViewingBatchID(*batchID)
	c.Mux().SubscribeToProgress(*batchID, func(p events.Progress) {
		fmt.Printf("[%3.0f%%] %d/%d done, %d failed, %d generating (script %s %s)\n",
			p.Progress*100, p.CompletedCount, p.TotalCount, p.FailedCount,
			p.GeneratingCount, p.ScriptID, p.Status)
	})
	c.Mux().SubscribeToCompleted(*batchID, func(ev events.Completed) {
		fmt.Printf("batch %s completed: %d/%d succeeded, %d failed\n",
			ev.BatchID, ev.CompletedScripts, ev.TotalScripts, ev.FailedScripts)
		close(done)
	})

	if err := c.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	// Wait for the batch to finish or an interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
	case <-quit:
		fmt.Println("interrupted")
	}
}
