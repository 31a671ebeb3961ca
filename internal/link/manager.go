package link

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vitalmesh/meshlink/internal/observability"
)

var (
	ErrNotConnected             = errors.New("link: not connected")
	ErrOpenerRequired           = errors.New("link: opener required")
	ErrControlEncoderRequired   = errors.New("link: control encoder required")
	ErrInvalidKeepaliveInterval = errors.New("link: invalid keepalive interval")
)

// State is the connection lifecycle position owned by the Manager.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingPermission State = "awaiting_permission"
	StateOpening            State = "opening"
	StateConnected          State = "connected"
)

// StatusUpdate is one observable transition of the connection state.
type StatusUpdate struct {
	State     State
	Status    string
	SessionID string
}

// ControlEncoder builds the control payloads the manager sends on its
// own behalf. The link engine treats the results as opaque bytes.
type ControlEncoder interface {
	HandshakePayload(correlationID uint32) ([]byte, error)
	KeepalivePayload(nonce uint16) ([]byte, error)
}

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	Opener  Opener
	Control ControlEncoder
	// Gate, when set, must grant access between discovery and open.
	// Nil means the host environment needs no grant and the
	// awaiting-permission state is skipped.
	Gate              PermissionGate
	Consumer          Consumer
	KeepaliveInterval time.Duration
	ReadBufferSize    int
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		KeepaliveInterval: 10 * time.Second,
		ReadBufferSize:    DefaultReadBufferSize,
	}
}

func (c ManagerConfig) WithDefaults() ManagerConfig {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 10 * time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	return c
}

func (c ManagerConfig) Validate() error {
	if c.Opener == nil {
		return ErrOpenerRequired
	}
	if c.Control == nil {
		return ErrControlEncoderRequired
	}
	if c.Consumer == nil {
		return ErrConsumerRequired
	}
	if c.KeepaliveInterval <= 0 {
		return ErrInvalidKeepaliveInterval
	}
	return nil
}

// Manager drives the connection lifecycle: discovery, permission,
// channel open, handshake, keepalive, teardown. At most one session is
// alive at a time, and a lost link always lands in idle; reconnecting
// takes a fresh Connect call.
type Manager struct {
	cfg ManagerConfig

	// opMu serializes Connect and Disconnect end to end.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	status  string
	session *Session

	rng   *rand.Rand
	nonce atomic.Uint32

	subsMu sync.Mutex
	subs   []chan StatusUpdate
}

const statusBuffer = 8

func NewManager(cfg ManagerConfig) (*Manager, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:    cfg,
		state:  StateIdle,
		status: "idle",
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	m.nonce.Store(uint32(m.rng.Intn(0x10000)))
	return m, nil
}

// Connect walks the attach sequence and leaves the manager connected,
// or back in idle with the failure returned. A connect while connected
// closes the existing session first.
func (m *Manager) Connect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.teardown("reconnecting")

	dev, err := m.cfg.Opener.Discover(ctx)
	if err != nil {
		m.transition(StateIdle, fmt.Sprintf("no device: %v", err))
		return err
	}

	if m.cfg.Gate != nil {
		m.transition(StateAwaitingPermission, fmt.Sprintf("waiting for permission to use %s", dev.Path))
		if err := m.cfg.Gate.Request(ctx, dev); err != nil {
			m.transition(StateIdle, fmt.Sprintf("permission denied for %s", dev.Path))
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}

	m.transition(StateOpening, fmt.Sprintf("opening %s", dev.Path))
	channel, err := m.cfg.Opener.Open(ctx, dev)
	if err != nil {
		m.transition(StateIdle, fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("%w: %s: %v", ErrOpenFailed, dev.Path, err)
	}

	var sess *Session
	sess, err = NewSession(channel, SessionConfig{
		ReadBufferSize: m.cfg.ReadBufferSize,
		Consumer:       m.cfg.Consumer,
		// OnFatal cannot fire before Start, so capturing sess is safe.
		OnFatal: func(err error) { m.handleSessionFatal(sess, err) },
	})
	if err != nil {
		_ = channel.Close()
		m.transition(StateIdle, fmt.Sprintf("session setup failed: %v", err))
		return err
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	sess.Start()

	correlationID := uint32(m.rng.Int31())
	if err := m.sendHandshake(sess, correlationID); err != nil {
		m.clearSessionIf(sess)
		_ = sess.Close()
		m.transition(StateIdle, fmt.Sprintf("handshake failed: %v", err))
		return err
	}

	m.transition(StateConnected, fmt.Sprintf("connected to %s", dev.Path))
	log.Info().
		Str("device", dev.Path).
		Str("session_id", sess.ID()).
		Uint32("correlation_id", correlationID).
		Msg("link: connected")

	go m.keepaliveLoop(sess)
	return nil
}

// Disconnect closes the live session, if any, and lands in idle.
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.teardown("disconnected")
}

// Send forwards payload to the live session. Without one the send is
// rejected; the engine never queues or retries.
func (m *Manager) Send(payload []byte) error {
	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(payload)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns the human-readable line describing the last
// transition or failure.
func (m *Manager) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SessionID returns the identity of the live session, empty when idle.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID()
}

// Subscribe registers a status observer. Updates are delivered on a
// buffered channel; a full buffer drops updates rather than blocking
// transitions. The returned cancel removes and closes the channel.
func (m *Manager) Subscribe() (<-chan StatusUpdate, func()) {
	ch := make(chan StatusUpdate, statusBuffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()

	cancel := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (m *Manager) sendHandshake(sess *Session, correlationID uint32) error {
	payload, err := m.cfg.Control.HandshakePayload(correlationID)
	if err != nil {
		return fmt.Errorf("link: encode handshake: %w", err)
	}
	if err := sess.Send(payload); err != nil {
		return fmt.Errorf("link: handshake send: %w", err)
	}
	observability.RecordHandshake()
	return nil
}

func (m *Manager) keepaliveLoop(sess *Session) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Done():
			return
		case <-ticker.C:
			nonce := uint16(m.nonce.Add(1))
			payload, err := m.cfg.Control.KeepalivePayload(nonce)
			if err != nil {
				log.Error().Err(err).Msg("link: encode keepalive")
				continue
			}
			if err := sess.Send(payload); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return
				}
				log.Warn().Str("session_id", sess.ID()).Err(err).Msg("link: keepalive send failed")
				continue
			}
			observability.RecordKeepalive()
			log.Debug().Str("session_id", sess.ID()).Uint16("nonce", nonce).Msg("link: keepalive sent")
		}
	}
}

// teardown closes the live session and transitions to idle. No-op when
// nothing is live.
func (m *Manager) teardown(status string) {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.mu.Unlock()
	if sess == nil {
		return
	}
	_ = sess.Close()
	m.transition(StateIdle, status)
}

// handleSessionFatal reacts to a read-side death reported by the
// session. The pointer guard keeps a stale session's late failure from
// tearing down its replacement.
func (m *Manager) handleSessionFatal(sess *Session, cause error) {
	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.mu.Unlock()

	_ = sess.Close()
	m.transition(StateIdle, fmt.Sprintf("link lost: %v", cause))
	log.Warn().Str("session_id", sess.ID()).Err(cause).Msg("link: session lost")
}

func (m *Manager) clearSessionIf(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == sess {
		m.session = nil
	}
}

func (m *Manager) transition(state State, status string) {
	m.mu.Lock()
	m.state = state
	m.status = status
	sessionID := ""
	if m.session != nil {
		sessionID = m.session.ID()
	}
	m.mu.Unlock()

	observability.RecordStateTransition(string(state), state == StateConnected)
	m.publish(StatusUpdate{State: state, Status: status, SessionID: sessionID})
	log.Debug().Str("state", string(state)).Str("status", status).Msg("link: transition")
}

func (m *Manager) publish(update StatusUpdate) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub <- update:
		default:
		}
	}
}
