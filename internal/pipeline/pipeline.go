package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/vitalmesh/meshlink/internal/observability"
	"github.com/vitalmesh/meshlink/internal/protocol/message"
)

var ErrSenderRequired = errors.New("pipeline: sender required")

// Sender is the outbound half of a live link.
type Sender interface {
	Send(payload []byte) error
}

// Outbound hands serialized payloads to the link. It never inspects or
// rewrites raw bytes, so any payload the frame codec accepts can ride
// it.
type Outbound struct {
	sender Sender
}

func NewOutbound(sender Sender) (*Outbound, error) {
	if sender == nil {
		return nil, ErrSenderRequired
	}
	return &Outbound{sender: sender}, nil
}

// SendRaw forwards payload verbatim.
func (o *Outbound) SendRaw(payload []byte) error {
	return o.sender.Send(payload)
}

// Send serializes m and forwards the result.
func (o *Outbound) Send(m message.Message) error {
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}
	return o.sender.Send(payload)
}

// Handler consumes one inbound message together with its arrival
// sequence number.
type Handler func(seq uint64, m message.Message)

// UnrecognizedHandler consumes payloads that decode to no known
// schema.
type UnrecognizedHandler func(seq uint64, u message.Unrecognized)

// Dispatcher decodes inbound payloads against the closed message set
// and routes each to the handler registered for its type. Every
// payload is tagged with an arrival sequence number; payloads nobody
// recognizes go to the unrecognized handler instead of vanishing.
type Dispatcher struct {
	mu           sync.RWMutex
	handlers     map[uint8]Handler
	unrecognized UnrecognizedHandler

	seq atomic.Uint64
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[uint8]Handler)}
	d.unrecognized = func(seq uint64, u message.Unrecognized) {
		log.Warn().
			Uint64("seq", seq).
			Uint8("message_type", u.MessageType).
			Str("reason", u.Reason).
			Msg("pipeline: unrecognized payload")
	}
	return d
}

// Handle registers h for messageType, replacing any previous handler.
func (d *Dispatcher) Handle(messageType uint8, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[messageType] = h
}

// HandleUnrecognized replaces the default unrecognized sink.
func (d *Dispatcher) HandleUnrecognized(h UnrecognizedHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unrecognized = h
}

// Dispatch decodes one payload and routes it. Calls arrive on the
// session read pump one at a time, so the sequence number matches
// arrival order exactly.
func (d *Dispatcher) Dispatch(payload []byte) {
	seq := d.seq.Add(1)
	m := message.Decode(payload)

	if u, ok := m.(message.Unrecognized); ok {
		observability.RecordUnrecognizedPayload()
		d.mu.RLock()
		h := d.unrecognized
		d.mu.RUnlock()
		h(seq, u)
		return
	}

	messageType := message.TypeOf(m)
	d.mu.RLock()
	h := d.handlers[messageType]
	d.mu.RUnlock()
	if h == nil {
		log.Debug().
			Uint64("seq", seq).
			Uint8("message_type", messageType).
			Msg("pipeline: no handler registered")
		return
	}
	h(seq, m)
}
