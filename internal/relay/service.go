package relay

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vitalmesh/meshlink/internal/auth"
	"github.com/vitalmesh/meshlink/internal/link"
	"github.com/vitalmesh/meshlink/internal/pipeline"
	"github.com/vitalmesh/meshlink/internal/protocol/message"
	"github.com/vitalmesh/meshlink/internal/protocol/schema"
	"github.com/vitalmesh/meshlink/internal/serial"
)

var ErrInvalidHeartbeatInterval = errors.New("relay: invalid heartbeat interval")

// ServiceConfig configures the relay daemon.
type ServiceConfig struct {
	NodeID      string
	Addr        string
	CorsOrigins []string

	// AuthToken guards the mutating admin routes when non-empty.
	AuthToken string

	// ConnectOnBoot makes the daemon attempt one link connect during
	// startup. Failures are logged, not fatal; the device may simply
	// not be plugged in yet.
	ConnectOnBoot bool

	HeartbeatInterval time.Duration
	ReportCapacity    int

	Serial serial.Config

	// Link carries tuning for the connection manager. Opener, Gate and
	// Control may be pre-set (tests do); anything unset is wired during
	// bootstrap. Consumer is always owned by the service.
	Link link.ManagerConfig

	Classifier Classifier

	TLSCertFile string
	TLSKeyFile  string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:            "meshlink-relay",
		Addr:              ":9200",
		ConnectOnBoot:     true,
		HeartbeatInterval: 5 * time.Second,
		ReportCapacity:    DefaultReportCapacity,
		Serial:            serial.DefaultConfig(),
		Link:              link.DefaultManagerConfig(),
	}
}

// Service runs the relay daemon lifecycle as a standalone process.
type Service struct {
	cfg        ServiceConfig
	relay      *Relay
	engine     *link.Manager
	outbound   *pipeline.Outbound
	reports    *ReportLog
	dispatcher *pipeline.Dispatcher
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = "meshlink-relay"
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":9200"
	}
	return &Service{cfg: cfg}
}

// Run blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

// Engine returns the connection manager once bootstrap has run.
func (s *Service) Engine() *link.Manager {
	return s.engine
}

// Reports returns the relayed-report ring.
func (s *Service) Reports() *ReportLog {
	return s.reports
}

// Relay returns the admin HTTP node.
func (s *Service) Relay() *Relay {
	return s.relay
}

// bootstrap wires dispatcher, link engine and admin surface together.
func (s *Service) bootstrap() error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	s.reports = NewReportLog(s.cfg.ReportCapacity)
	s.dispatcher = pipeline.NewDispatcher()
	s.registerHandlers()

	mgrCfg := s.cfg.Link
	if mgrCfg.Opener == nil {
		mgrCfg.Opener = serial.NewOpener(s.cfg.Serial)
	}
	if mgrCfg.Control == nil {
		mgrCfg.Control = message.Control{}
	}
	mgrCfg.Consumer = s.dispatcher.Dispatch

	engine, err := link.NewManager(mgrCfg)
	if err != nil {
		return err
	}
	s.engine = engine

	outbound, err := pipeline.NewOutbound(engine)
	if err != nil {
		return err
	}
	s.outbound = outbound

	relay := NewRelay(s.cfg.NodeID, s.cfg.Addr, s.cfg.CorsOrigins)
	relay.engine = engine
	relay.outbound = outbound
	relay.reports = s.reports
	relay.classifier = s.cfg.Classifier
	if strings.TrimSpace(s.cfg.AuthToken) != "" {
		relay.validator = auth.StaticToken{Token: s.cfg.AuthToken}
	}
	s.relay = relay

	log.Info().
		Str("relay", s.cfg.NodeID).
		Str("addr", s.cfg.Addr).
		Bool("auth", relay.validator != nil).
		Bool("tls", s.cfg.TLSCertFile != "").
		Msg("relay: bootstrap ready")
	return nil
}

// serve runs the admin listener, optional boot connect, heartbeat and
// link state logging until ctx is done.
func (s *Service) serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer s.engine.Disconnect()

	updates, cancelUpdates := s.engine.Subscribe()
	defer cancelUpdates()

	serverErr := make(chan error, 1)
	go func() {
		if s.cfg.TLSCertFile != "" {
			serverErr <- s.relay.ServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
			return
		}
		serverErr <- s.relay.Serve()
	}()

	if s.cfg.ConnectOnBoot {
		if err := s.engine.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("relay: boot connect failed, staying idle")
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay: shutdown")
			return nil
		case err := <-serverErr:
			if err != nil {
				return err
			}
		case u := <-updates:
			log.Info().
				Str("state", string(u.State)).
				Str("status", u.Status).
				Str("session_id", u.SessionID).
				Msg("relay: link state")
		case <-ticker.C:
			log.Info().
				Str("relay", s.cfg.NodeID).
				Str("state", string(s.engine.State())).
				Str("session_id", s.engine.SessionID()).
				Int("reports_retained", s.reports.Len()).
				Uint64("reports_total", s.reports.Total()).
				Msg("relay: heartbeat")
		}
	}
}

// registerHandlers binds the inbound message set to relay behavior.
func (s *Service) registerHandlers() {
	s.dispatcher.Handle(schema.MsgHealthReport, func(seq uint64, m message.Message) {
		report := m.(message.HealthReport)
		entry := s.reports.Add(DirectionInbound, report)
		evt := log.Info()
		if report.Risk == message.RiskRed || report.Alert {
			evt = log.Warn()
		}
		evt.
			Uint64("seq", seq).
			Uint64("entry", entry.Seq).
			Str("person", report.Person).
			Str("risk", string(report.Risk)).
			Bool("alert", report.Alert).
			Msg("relay: health report received")
	})

	s.dispatcher.Handle(schema.MsgTextMessage, func(seq uint64, m message.Message) {
		text := m.(message.TextMessage)
		log.Info().
			Uint64("seq", seq).
			Str("sender", text.Sender).
			Str("body", text.Body).
			Msg("relay: text received")
	})

	s.dispatcher.Handle(schema.MsgEntityRecord, func(seq uint64, m message.Message) {
		entity := m.(message.EntityRecord)
		log.Debug().
			Uint64("seq", seq).
			Str("entity_id", entity.EntityID).
			Str("label", entity.Label).
			Float64("longitude", entity.Longitude).
			Float64("latitude", entity.Latitude).
			Msg("relay: entity record received")
	})

	s.dispatcher.Handle(schema.MsgConfigComplete, func(seq uint64, m message.Message) {
		complete := m.(message.ConfigComplete)
		log.Info().
			Uint64("seq", seq).
			Uint32("correlation_id", complete.CorrelationID).
			Msg("relay: device config complete")
	})
}
