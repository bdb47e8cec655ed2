package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilmeet/roulette/internal/messaging"
	"github.com/veilmeet/roulette/internal/moderation"
)

// LocalModerator runs the content filter in-process. Used when no NATS
// moderator service is configured.
type LocalModerator struct {
	filter *moderation.Filter
}

// NewLocalModerator wraps the given filter as a Moderator.
func NewLocalModerator(filter *moderation.Filter) *LocalModerator {
	return &LocalModerator{filter: filter}
}

// Check runs the filter synchronously. It never fails.
func (m *LocalModerator) Check(_ context.Context, _ string, text string) (Verdict, error) {
	res := m.filter.Check(text)
	return Verdict{Blocked: res.Blocked, Reason: res.Reason}, nil
}

// NATSModerator forwards moderation checks to the standalone moderator
// service over NATS request/reply. A timeout or transport error is returned
// to the caller, which fails open per the relay's error policy.
type NATSModerator struct {
	nats    *messaging.NATSClient
	timeout time.Duration
}

// NewNATSModerator creates a moderator adapter over an established NATS
// connection.
func NewNATSModerator(nats *messaging.NATSClient, timeout time.Duration) *NATSModerator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &NATSModerator{nats: nats, timeout: timeout}
}

// Check publishes a moderation.check request and waits for the verdict.
func (m *NATSModerator) Check(ctx context.Context, sessionID, text string) (Verdict, error) {
	req := moderation.CheckRequest{
		SessionID: sessionID,
		Text:      text,
		Ts:        time.Now().UnixMilli(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("collab: marshal moderation request: %w", err)
	}

	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	reply, err := m.nats.Request(messaging.SubjectModerationCheck, data, timeout)
	if err != nil {
		return Verdict{}, fmt.Errorf("collab: moderation check: %w", err)
	}

	var res moderation.CheckResult
	if err := json.Unmarshal(reply, &res); err != nil {
		return Verdict{}, fmt.Errorf("collab: decode moderation result: %w", err)
	}
	return Verdict{Blocked: res.Blocked, Reason: res.Reason}, nil
}
