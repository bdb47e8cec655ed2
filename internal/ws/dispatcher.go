package ws

import (
	"log"

	"github.com/veilmeet/roulette/internal/protocol"
	"github.com/veilmeet/roulette/internal/registry"
)

// MessageHandler is the callback signature for handling a parsed client event.
// The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (e.g., protocol.FindMatchMsg, protocol.SignalMsg).
type MessageHandler func(sess *registry.Session, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the event type. It handles the built-in ping/pong keepalive
// internally; malformed and unsupported messages are logged and dropped.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a MessageDispatcher bound to the given server.
// The server reference is used to send responses back to clients.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

// SetServer assigns the Server reference on the dispatcher. This supports the
// initialization pattern where the dispatcher is created before the server
// (since NewServer requires the Dispatch callback).
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a MessageHandler with an event type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed event, handles ping internally, and routes all other types to
// the registered handler. Parse errors and unregistered types are logged and
// dropped; the client gets no reply for input it should never have sent.
func (d *MessageDispatcher) Dispatch(sess *registry.Session, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error session=%s: %v", sess.ID, err)
		return
	}

	// Built-in ping handler; respond immediately without requiring registration.
	if msgType == protocol.TypePing {
		d.sendPong(sess)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q session=%s", msgType, sess.ID)
		return
	}

	handler(sess, msg)
}

// sendPong responds to a client ping with a pong event and records the
// keepalive as session activity.
func (d *MessageDispatcher) sendPong(sess *registry.Session) {
	sess.Touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("ws: failed to build pong message session=%s: %v", sess.ID, err)
		return
	}

	if err := sess.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong message session=%s: %v", sess.ID, err)
	}
}
