package link

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vitalmesh/meshlink/internal/observability"
	"github.com/vitalmesh/meshlink/internal/protocol/framing"
)

var (
	ErrSessionClosed    = errors.New("link: session closed")
	ErrChannelRequired  = errors.New("link: channel required")
	ErrConsumerRequired = errors.New("link: consumer required")
)

// DefaultReadBufferSize is the chunk size of the session read pump.
const DefaultReadBufferSize = 4096

// Consumer receives decoded frame payloads in arrival order. It runs on
// the session read goroutine, so it must not block for long.
type Consumer func(payload []byte)

// SessionConfig configures one link session.
type SessionConfig struct {
	ReadBufferSize int
	Consumer       Consumer
	// OnFatal fires at most once, when the read side of the channel
	// fails while the session is still open.
	OnFatal func(err error)
}

func (c SessionConfig) WithDefaults() SessionConfig {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	return c
}

// Session owns one channel exclusively for its lifetime. Its read pump
// goroutine is the only reader of the channel and the only caller of
// the frame decoder, so decoded payloads reach the consumer in strict
// arrival order.
type Session struct {
	id      string
	channel Channel
	cfg     SessionConfig
	decoder framing.Decoder

	writeMu sync.Mutex
	sendSeq atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	fatalOnce sync.Once
	done      chan struct{}
}

// NewSession wraps channel in a session. The read pump does not run
// until Start is called.
func NewSession(channel Channel, cfg SessionConfig) (*Session, error) {
	if channel == nil {
		return nil, ErrChannelRequired
	}
	cfg = cfg.WithDefaults()
	if cfg.Consumer == nil {
		return nil, ErrConsumerRequired
	}
	return &Session{
		id:      uuid.NewString(),
		channel: channel,
		cfg:     cfg,
		done:    make(chan struct{}),
	}, nil
}

// ID returns the session identity, unique per connection attempt.
func (s *Session) ID() string { return s.id }

// Done is closed when the read pump exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start launches the read pump.
func (s *Session) Start() {
	go s.readLoop()
}

// Send frames payload and writes it to the channel. Writes are
// serialized: one frame is in flight at a time. A write failure is
// returned to the caller without tearing the session down; teardown is
// the read side's call.
func (s *Session) Send(payload []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	wire, err := framing.Encode(payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if _, err := s.channel.Write(wire); err != nil {
		if s.closed.Load() {
			return ErrSessionClosed
		}
		return fmt.Errorf("link: write frame: %w", err)
	}
	observability.RecordFrameEncoded(len(wire))
	log.Debug().
		Str("session_id", s.id).
		Uint64("seq", s.sendSeq.Add(1)).
		Int("payload_bytes", len(payload)).
		Msg("link: frame sent")
	return nil
}

// Close releases the channel. Idempotent, safe from any goroutine, and
// unblocks the pending read so the pump can exit.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.channel.Close()
		log.Debug().Str("session_id", s.id).Msg("link: session closed")
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.done)
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := s.channel.Read(buf)
		if n > 0 {
			observability.RecordBytesReceived(n)
			before := s.decoder.Discarded()
			payloads := s.decoder.Feed(buf[:n])
			if dropped := s.decoder.Discarded() - before; dropped > 0 {
				observability.RecordResyncDiscard(dropped)
				log.Debug().
					Str("session_id", s.id).
					Uint64("bytes", dropped).
					Msg("link: resynchronized after malformed input")
			}
			for _, payload := range payloads {
				observability.RecordFrameDecoded()
				s.cfg.Consumer(payload)
			}
		}
		if err != nil {
			s.fail(err)
			return
		}
	}
}

// fail reports a read-side death. A close requested through Close is
// expected and does not count.
func (s *Session) fail(err error) {
	if s.closed.Load() {
		return
	}
	s.fatalOnce.Do(func() {
		log.Warn().Str("session_id", s.id).Err(err).Msg("link: channel read failed")
		if s.cfg.OnFatal != nil {
			s.cfg.OnFatal(err)
		}
	})
}
