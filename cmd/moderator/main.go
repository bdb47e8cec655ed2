package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/veilmeet/roulette/internal/messaging"
	"github.com/veilmeet/roulette/internal/moderation"
)

func main() {
	log.Println("Starting veilmeet moderation service...")

	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "veilmeet-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Initialize content filter.
	filter := moderation.NewFilter()

	// Answer moderation check requests over request/reply. The core fails
	// open on timeout, so a crashed moderator degrades to no moderation
	// rather than blocking all chat.
	err = natsClient.SubscribeModerationCheck(func(msg *nats.Msg) {
		var req moderation.CheckRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Printf("[moderator] failed to unmarshal request: %v", err)
			return
		}

		result := filter.Check(req.Text)
		if result.Blocked {
			log.Printf("[moderator] FLAGGED session=%s reason=%s term=%q",
				req.SessionID, result.Reason, result.Term)
		}

		resp := moderation.CheckResult{
			Blocked: result.Blocked,
			Reason:  result.Reason,
			Term:    result.Term,
		}
		respData, err := json.Marshal(resp)
		if err != nil {
			log.Printf("[moderator] failed to marshal result: %v", err)
			return
		}
		if err := msg.Respond(respData); err != nil {
			log.Printf("[moderator] failed to respond: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to moderation checks: %v", err)
	}

	log.Printf("veilmeet moderation service running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
