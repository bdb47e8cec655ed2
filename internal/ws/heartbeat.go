package ws

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all sessions and evicts those that have gone
// stale (no successful reads within Interval + Timeout). It returns
// immediately; the goroutine exits when the server's done channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkSessions(server, config)
			}
		}
	}()
}

// checkSessions iterates over all live sessions. Sessions that have not had a
// successful read within Interval + Timeout are considered dead and are
// removed, which runs the same disconnect cleanup as a closed connection. All
// other sessions receive a WebSocket-level ping frame (opcode 0x9) which the
// browser answers automatically with a pong.
func checkSessions(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, sess := range server.Registry().All() {
		if now.Sub(sess.LastActive()) > deadline {
			log.Printf("ws: heartbeat timeout session=%s last_activity=%s ago",
				sess.ID, now.Sub(sess.LastActive()).Round(time.Second))
			server.RemoveSession(sess)
			continue
		}

		// Send a WebSocket protocol-level ping frame. The write mutex on the
		// session serializes this with any concurrent application writes.
		if err := sess.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%s: %v", sess.ID, err)
			server.RemoveSession(sess)
		}
	}
}
