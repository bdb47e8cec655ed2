// Package relay is the control plane between the transport and the
// matchmaking core. It decodes client events into queue, pairing and driver
// operations, relays signaling and chat strictly between paired peers, and
// runs the skip / auto-requeue protocol.
package relay

import (
	"context"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/veilmeet/roulette/internal/collab"
	"github.com/veilmeet/roulette/internal/matchmaking"
	"github.com/veilmeet/roulette/internal/metrics"
	"github.com/veilmeet/roulette/internal/pairing"
	"github.com/veilmeet/roulette/internal/protocol"
	"github.com/veilmeet/roulette/internal/registry"
	"github.com/veilmeet/roulette/internal/ws"
)

// maxMessageRunes is the chat message length cap.
const maxMessageRunes = 2000

// Handler wires every inbound event type to the queue, pairing manager and
// search drivers. One Handler serves all sessions; per-session ordering comes
// from the transport (one read worker per session at a time) and per-session
// write mutexes.
type Handler struct {
	reg      *registry.Registry
	queue    *matchmaking.Queue
	pairs    *pairing.Manager
	search   *matchmaking.Supervisor
	blocks   collab.BlockStore
	identity collab.IdentityStore // nil when no accounts database is configured
	mod      collab.Moderator

	requeueDelay time.Duration // WebRTC teardown grace before a skip re-enqueue
}

// NewHandler creates the relay handler and its search-driver supervisor.
// identity may be nil; blocks and mod must not be (use collab.NopBlockStore /
// collab.AllowAllModerator as fallbacks).
func NewHandler(reg *registry.Registry, queue *matchmaking.Queue, pairs *pairing.Manager,
	blocks collab.BlockStore, identity collab.IdentityStore, mod collab.Moderator,
	requeueDelay time.Duration) *Handler {

	if requeueDelay <= 0 {
		requeueDelay = 200 * time.Millisecond
	}

	h := &Handler{
		reg:          reg,
		queue:        queue,
		pairs:        pairs,
		blocks:       blocks,
		identity:     identity,
		mod:          mod,
		requeueDelay: requeueDelay,
	}
	h.search = matchmaking.NewSupervisor(queue, pairs, h.onMatch, h.onTick)
	return h
}

// Register installs the handler for every supported client event type.
func (h *Handler) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeAuthenticate, h.handleAuthenticate)
	d.Register(protocol.TypeFindMatch, h.handleFindMatch)
	d.Register(protocol.TypeCancelMatch, h.handleCancelMatch)
	d.Register(protocol.TypeSkip, h.handleSkip)
	d.Register(protocol.TypeSendMessage, h.handleSendMessage)
	d.Register(protocol.TypeTyping, h.handleTyping)
	d.Register(protocol.TypeStopTyping, h.handleStopTyping)
	d.Register(protocol.TypeOffer, h.handleSignal)
	d.Register(protocol.TypeAnswer, h.handleSignal)
	d.Register(protocol.TypeICECandidate, h.handleSignal)
	d.Register(protocol.TypeVideoToggle, h.handleMediaToggle)
	d.Register(protocol.TypeAudioToggle, h.handleMediaToggle)
}

// Shutdown tells every searching session the server tore its driver down,
// then cancels all drivers and waits for the loops to exit. Called during
// graceful server shutdown, before connections close.
func (h *Handler) Shutdown() {
	for _, sess := range h.reg.All() {
		if h.search.Running(sess.ID) {
			h.send(sess.ID, protocol.TypeMatchmakingStopped, protocol.MatchmakingStoppedMsg{})
		}
	}
	h.search.StopAll()
}

// Search exposes the driver supervisor, mainly for tests.
func (h *Handler) Search() *matchmaking.Supervisor {
	return h.search
}

// OnDisconnect is the registry unregister hook: the single authoritative
// disconnect trigger. It stops the session's search driver, removes it from
// the queue, and tears down its pairing, notifying the surviving partner.
// The partner is NOT re-enqueued on disconnect; only skip re-enqueues.
func (h *Handler) OnDisconnect(sessionID string) {
	h.search.Stop(sessionID)
	h.queue.Remove(sessionID)
	h.updateQueueGauges()

	_, ok := h.pairs.Unpair(sessionID, func(p *pairing.Pairing) {
		partner := p.PartnerOf(sessionID)
		h.send(partner, protocol.TypeMatchEnded, protocol.MatchEndedMsg{
			Reason:        "disconnected",
			FromSessionID: sessionID,
			Disconnected:  true,
			AutoRequeue:   false,
		})
	})
	if ok {
		metrics.ActivePairings.Dec()
	}
}

// ---------------------------------------------------------------------------
// Search driver callbacks
// ---------------------------------------------------------------------------

// onMatch runs inside TryPair's critical section, so both match-found events
// are sent before any other goroutine can observe the pairing.
func (h *Handler) onMatch(p *pairing.Pairing, caller, partner *matchmaking.Entry) {
	now := time.Now()

	h.send(caller.SessionID, protocol.TypeMatchFound, protocol.MatchFoundMsg{
		MatchSessionID: partner.SessionID,
		MatchUserID:    partner.UserID,
		WaitTime:       caller.WaitMs(now),
	})
	h.send(partner.SessionID, protocol.TypeMatchFound, protocol.MatchFoundMsg{
		MatchSessionID: caller.SessionID,
		MatchUserID:    caller.UserID,
		WaitTime:       partner.WaitMs(now),
	})

	metrics.ActivePairings.Inc()
	metrics.MatchWait.Observe(float64(caller.WaitMs(now)) / 1000)
	metrics.MatchWait.Observe(float64(partner.WaitMs(now)) / 1000)
	h.updateQueueGauges()
}

// onTick emits the searching progress event on every unsuccessful poll.
// queuePosition is the occupancy of the caller's tier bucket.
func (h *Handler) onTick(entry *matchmaking.Entry, snap matchmaking.Snapshot) {
	metrics.SearchPollsTotal.Inc()
	h.updateQueueGauges()

	h.send(entry.SessionID, protocol.TypeSearching, protocol.SearchingMsg{
		QueuePosition:  snap.PerTier[entry.Tier],
		WaitTime:       entry.WaitMs(time.Now()),
		SearchAttempts: entry.SearchAttempts,
	})
}

// ---------------------------------------------------------------------------
// Event handlers
// ---------------------------------------------------------------------------

func (h *Handler) handleAuthenticate(sess *registry.Session, msg interface{}) {
	m, ok := msg.(protocol.AuthenticateMsg)
	if !ok {
		return
	}

	if h.identity == nil {
		h.sendError(sess.ID, "auth_failed", "authentication is not available")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	id, err := h.identity.Authenticate(ctx, m.Token)
	if err != nil {
		if !errors.Is(err, collab.ErrInvalidToken) {
			log.Printf("[relay] authenticate session=%s: %v", sess.ID, err)
		}
		h.sendError(sess.ID, "auth_failed", "invalid or expired token")
		return
	}

	tier := protocol.Tier(id.Tier)
	if !tier.Valid() {
		tier = protocol.TierFree
	}
	sess.BindIdentity(id.UserID, tier)

	h.send(sess.ID, protocol.TypeAuthenticated, protocol.AuthenticatedMsg{
		UserID: id.UserID,
		Tier:   tier,
	})
}

func (h *Handler) handleFindMatch(sess *registry.Session, msg interface{}) {
	m, ok := msg.(protocol.FindMatchMsg)
	if !ok {
		return
	}

	if h.pairs.IsPaired(sess.ID) {
		h.sendError(sess.ID, "already_paired", "skip the current match before searching again")
		return
	}

	sess.SetSearchProfile(m.UserID, m.Preferences.Normalize())
	h.enqueue(sess)
	h.search.Start(sess.ID)
}

func (h *Handler) handleCancelMatch(sess *registry.Session, msg interface{}) {
	h.stopSearch(sess.ID)
	h.send(sess.ID, protocol.TypeMatchCancelled, protocol.MatchCancelledMsg{})
}

// handleSkip runs the skip / auto-requeue protocol: tear down the pairing
// (notifying both peers before the record is deleted), acknowledge the
// skipper, then re-enqueue the skipped peer always and the skipper per its
// flag, after a short grace so clients can tear down WebRTC.
func (h *Handler) handleSkip(sess *registry.Session, msg interface{}) {
	m, ok := msg.(protocol.SkipMsg)
	if !ok {
		return
	}

	// A replacement search profile may ride along on the skip.
	if m.Preferences != nil {
		sess.SetSearchProfile(m.UserID, m.Preferences.Normalize())
	} else if m.UserID != "" {
		_, _, prefs := sess.SearchProfile()
		sess.SetSearchProfile(m.UserID, prefs)
	}

	partner, unpaired := h.pairs.Unpair(sess.ID, func(p *pairing.Pairing) {
		peer := p.PartnerOf(sess.ID)
		// The skipped peer is always auto-requeued.
		h.send(peer, protocol.TypeMatchEnded, protocol.MatchEndedMsg{
			Reason:        "skipped",
			FromSessionID: sess.ID,
			Disconnected:  true,
			AutoRequeue:   true,
		})
		h.send(sess.ID, protocol.TypeMatchEnded, protocol.MatchEndedMsg{
			Reason:        "skipped",
			FromSessionID: sess.ID,
			Disconnected:  true,
			AutoRequeue:   m.AutoRequeue,
		})
	})

	h.send(sess.ID, protocol.TypeSkipSuccess, protocol.SkipSuccessMsg{
		AutoRequeue: m.AutoRequeue,
	})

	if unpaired {
		metrics.ActivePairings.Dec()
		h.requeueAfter(partner, h.requeueDelay)
		if m.AutoRequeue {
			h.requeueAfter(sess.ID, h.requeueDelay)
		}
		return
	}

	// No pairing: a skip with autoRequeue restarts the search; without it,
	// it degrades to a plain cancel.
	if m.AutoRequeue {
		h.requeueAfter(sess.ID, h.requeueDelay)
	} else {
		h.stopSearch(sess.ID)
		h.send(sess.ID, protocol.TypeMatchCancelled, protocol.MatchCancelledMsg{})
	}
}

func (h *Handler) handleSendMessage(sess *registry.Session, msg interface{}) {
	m, ok := msg.(protocol.SendMessageMsg)
	if !ok {
		return
	}

	partner := h.pairs.PartnerOf(sess.ID)
	if partner == "" {
		return // late message after skip, drop silently
	}

	if m.Message == "" || utf8.RuneCountInString(m.Message) > maxMessageRunes {
		h.sendError(sess.ID, "invalid_message", "message must be 1-2000 characters")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	verdict, err := h.mod.Check(ctx, sess.ID, m.Message)
	if err != nil {
		// Moderator outage fails open: the message is relayed.
		log.Printf("[relay] moderator check failed session=%s: %v", sess.ID, err)
		verdict = collab.Verdict{}
	}
	if verdict.Blocked {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		h.send(sess.ID, protocol.TypeMessageBlocked, protocol.MessageBlockedMsg{
			Reason: verdict.Reason,
		})
		return
	}

	// One payload, one timestamp: the echo to the sender carries the same
	// authoritative timestamp the partner sees.
	out := protocol.ReceiveMessageMsg{
		Message:   m.Message,
		Timestamp: time.Now().UnixMilli(),
		SenderID:  sess.ID,
	}
	metrics.MessagesTotal.WithLabelValues("chat").Inc()
	h.send(partner, protocol.TypeReceiveMessage, out)
	h.send(sess.ID, protocol.TypeReceiveMessage, out)
}

func (h *Handler) handleTyping(sess *registry.Session, msg interface{}) {
	if partner := h.pairs.PartnerOf(sess.ID); partner != "" {
		h.send(partner, protocol.TypeUserTyping, protocol.UserTypingMsg{})
	}
}

func (h *Handler) handleStopTyping(sess *registry.Session, msg interface{}) {
	if partner := h.pairs.PartnerOf(sess.ID); partner != "" {
		h.send(partner, protocol.TypeUserStoppedTyping, protocol.UserStoppedTypingMsg{})
	}
}

// handleSignal relays an offer, answer or ice-candidate. The payload is
// opaque; the core only checks that the declared target is the sender's
// current partner and rewrites "to" into "from". A mismatch is dropped
// silently: a late signal after a skip is not an error.
func (h *Handler) handleSignal(sess *registry.Session, msg interface{}) {
	m, ok := msg.(protocol.SignalMsg)
	if !ok {
		return
	}

	if m.To == "" || h.pairs.PartnerOf(sess.ID) != m.To {
		return
	}

	metrics.MessagesTotal.WithLabelValues("signal").Inc()
	h.send(m.To, m.Type, protocol.SignalMsg{
		Type:    m.Type,
		From:    sess.ID,
		Payload: m.Payload,
	})
}

func (h *Handler) handleMediaToggle(sess *registry.Session, msg interface{}) {
	m, ok := msg.(protocol.MediaToggleMsg)
	if !ok {
		return
	}

	partner := h.pairs.PartnerOf(sess.ID)
	if partner == "" {
		return
	}

	outType := protocol.TypePeerVideoToggle
	if m.Type == protocol.TypeAudioToggle {
		outType = protocol.TypePeerAudioToggle
	}
	h.send(partner, outType, protocol.PeerMediaToggleMsg{Enabled: m.Enabled})
}

// ---------------------------------------------------------------------------
// Enqueue / requeue plumbing
// ---------------------------------------------------------------------------

// enqueue builds a queue entry from the session's search profile and inserts
// it. A BlockStore failure is fail-open: the session is enqueued without a
// block filter rather than being refused service.
func (h *Handler) enqueue(sess *registry.Session) {
	userID, tier, prefs := sess.SearchProfile()
	if userID == "" {
		// Anonymous session that sent no userId: the session ID is as good
		// an identity as any for block comparisons.
		userID = sess.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	blocked, err := h.blocks.BlockedBy(ctx, userID)
	if err != nil {
		log.Printf("[relay] block list unavailable for user=%s, enqueueing unfiltered: %v", userID, err)
		blocked = nil
	}

	h.queue.Enqueue(&matchmaking.Entry{
		SessionID: sess.ID,
		UserID:    userID,
		Tier:      tier,
		Prefs:     prefs,
		Blocked:   blocked,
	})
	h.updateQueueGauges()
}

// requeueAfter re-enqueues the session and restarts its search driver after
// the teardown grace period. If the session is somehow still marked paired
// when the timer fires, the stale pairing is repaired by unpairing again
// before the enqueue.
func (h *Handler) requeueAfter(sessionID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		sess := h.reg.Get(sessionID)
		if sess == nil {
			return // disconnected during the grace period
		}

		if _, ok := h.pairs.Unpair(sessionID, func(p *pairing.Pairing) {
			h.send(p.PartnerOf(sessionID), protocol.TypeMatchEnded, protocol.MatchEndedMsg{
				Reason:        "skipped",
				FromSessionID: sessionID,
				Disconnected:  true,
				AutoRequeue:   true,
			})
		}); ok {
			log.Printf("[relay] repaired stale pairing for session=%s before requeue", sessionID)
			metrics.ActivePairings.Dec()
		}

		h.enqueue(sess)
		h.search.Start(sessionID)
	})
}

// stopSearch stops the session's driver and removes it from the queue.
func (h *Handler) stopSearch(sessionID string) {
	h.search.Stop(sessionID)
	h.queue.Remove(sessionID)
	h.updateQueueGauges()
}

// ---------------------------------------------------------------------------
// Delivery helpers
// ---------------------------------------------------------------------------

// send delivers one event to one session, best effort. Delivery failures are
// dropped: the registry already logged the session as gone, and control
// events are at-most-once.
func (h *Handler) send(sessionID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[relay] build %s for session=%s: %v", msgType, sessionID, err)
		return
	}
	if err := h.reg.Send(sessionID, data); err != nil && !errors.Is(err, registry.ErrNotDelivered) {
		log.Printf("[relay] send %s to session=%s: %v", msgType, sessionID, err)
	}
}

func (h *Handler) sendError(sessionID, code, message string) {
	h.send(sessionID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// updateQueueGauges refreshes the per-tier queue occupancy gauges.
func (h *Handler) updateQueueGauges() {
	snap := h.queue.Snapshot()
	for t, n := range snap.PerTier {
		metrics.QueueSize.WithLabelValues(string(t)).Set(float64(n))
	}
}
