package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/vitalmesh/meshlink/internal/config"
	"github.com/vitalmesh/meshlink/internal/observability"
	"github.com/vitalmesh/meshlink/internal/pipeline"
	"github.com/vitalmesh/meshlink/internal/protocol/framing"
	"github.com/vitalmesh/meshlink/internal/protocol/message"
	"github.com/vitalmesh/meshlink/internal/protocol/schema"
	"github.com/vitalmesh/meshlink/internal/serial"
)

func main() {
	configPath := flag.String("config", "", "tap config path")
	devicePath := flag.String("path", "", "pin a device node and skip discovery")
	baud := flag.Int("baud", 0, "baud rate override")
	flag.Parse()

	observability.InitLogger("linktap")

	cfg := serial.DefaultConfig()
	if *configPath != "" {
		fileCfg, err := config.LoadTapConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load tap config")
		}
		cfg = config.SerialOptions(fileCfg.Serial)
	}
	if *devicePath != "" {
		cfg.Path = *devicePath
	}
	if *baud > 0 {
		cfg.BaudRate = *baud
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "linktap: %v\n", err)
		os.Exit(1)
	}
}

// run opens the port and prints every decoded frame until ctx ends.
// The tap only listens; nothing is ever written to the port.
func run(ctx context.Context, cfg serial.Config, out io.Writer) error {
	cfg = cfg.WithDefaults()
	opener := serial.NewOpener(cfg)

	dev, err := opener.Discover(ctx)
	if err != nil {
		return err
	}
	ch, err := opener.Open(ctx, dev)
	if err != nil {
		return err
	}
	defer ch.Close()

	go func() {
		<-ctx.Done()
		_ = ch.Close() // unblocks the read loop
	}()

	dispatcher := pipeline.NewDispatcher()
	registerPrinters(dispatcher, out)

	log.Info().Str("device", dev.Path).Int("baud", cfg.BaudRate).Msg("linktap: listening")

	var dec framing.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			observability.RecordBytesReceived(n)
			before := dec.Discarded()
			payloads := dec.Feed(buf[:n])
			if dropped := dec.Discarded() - before; dropped > 0 {
				observability.RecordResyncDiscard(dropped)
				log.Debug().Uint64("bytes", dropped).Msg("linktap: resynchronized after noise")
			}
			for _, payload := range payloads {
				dispatcher.Dispatch(payload)
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", dev.Path, err)
		}
	}
}

func registerPrinters(d *pipeline.Dispatcher, out io.Writer) {
	for _, mt := range []uint8{
		schema.MsgConfigRequest,
		schema.MsgConfigComplete,
		schema.MsgKeepalive,
		schema.MsgHealthReport,
		schema.MsgTextMessage,
		schema.MsgEntityRecord,
	} {
		d.Handle(mt, func(seq uint64, m message.Message) {
			fmt.Fprintln(out, formatMessage(seq, m))
		})
	}
	d.HandleUnrecognized(func(seq uint64, u message.Unrecognized) {
		fmt.Fprintln(out, formatUnrecognized(seq, u))
	})
}

func formatMessage(seq uint64, m message.Message) string {
	switch v := m.(type) {
	case message.HealthReport:
		return fmt.Sprintf("[HLTH] seq=%d person=%s risk=%s alert=%t rec=%q",
			seq, v.Person, v.Risk, v.Alert, v.Recommendation)
	case message.TextMessage:
		return fmt.Sprintf("[TEXT] seq=%d sender=%s body=%q", seq, v.Sender, v.Body)
	case message.EntityRecord:
		return fmt.Sprintf("[ENTY] seq=%d id=%s label=%q lon=%.5f lat=%.5f",
			seq, v.EntityID, v.Label, v.Longitude, v.Latitude)
	case message.ConfigRequest:
		return fmt.Sprintf("[CONF] seq=%d request correlation=%d", seq, v.CorrelationID)
	case message.ConfigComplete:
		return fmt.Sprintf("[CONF] seq=%d complete correlation=%d", seq, v.CorrelationID)
	case message.Keepalive:
		return fmt.Sprintf("[KEEP] seq=%d nonce=%d", seq, v.Nonce)
	default:
		return fmt.Sprintf("[????] seq=%d %T", seq, m)
	}
}

func formatUnrecognized(seq uint64, u message.Unrecognized) string {
	return fmt.Sprintf("[????] seq=%d type=0x%02X len=%d reason=%s",
		seq, u.MessageType, len(u.Raw), u.Reason)
}
