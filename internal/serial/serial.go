// Package serial opens the radio's USB serial port and adapts it to
// the link engine's channel contract.
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	goserial "go.bug.st/serial"

	"github.com/vitalmesh/meshlink/internal/link"
)

// DefaultGlobs matches the device nodes mesh radios show up as on
// Linux and macOS.
var DefaultGlobs = []string{
	"/dev/ttyACM*",
	"/dev/ttyUSB*",
	"/dev/cu.usbmodem*",
}

const DefaultBaudRate = 115200

type Config struct {
	// Path pins a specific device node and skips discovery.
	Path string

	// Globs are tried in order; the first pattern with a match wins.
	Globs    []string
	BaudRate int
}

func DefaultConfig() Config {
	return Config{
		Globs:    DefaultGlobs,
		BaudRate: DefaultBaudRate,
	}
}

func (c Config) WithDefaults() Config {
	if len(c.Globs) == 0 {
		c.Globs = DefaultGlobs
	}
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	return c
}

// Opener finds and opens serial channels. It satisfies the link
// engine's Opener contract; the port is fixed at 8 data bits, 1 stop
// bit, no parity.
type Opener struct {
	cfg Config
}

func NewOpener(cfg Config) *Opener {
	return &Opener{cfg: cfg.WithDefaults()}
}

// Discover scans for a device node. A pinned path is returned as-is;
// otherwise the configured globs are tried in order and the first
// match wins. No match is ErrNoDevice.
func (o *Opener) Discover(ctx context.Context) (link.Device, error) {
	if err := ctx.Err(); err != nil {
		return link.Device{}, err
	}
	if o.cfg.Path != "" {
		return link.Device{Path: o.cfg.Path}, nil
	}
	for _, pattern := range o.cfg.Globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return link.Device{}, fmt.Errorf("serial: bad glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			continue
		}
		if len(matches) > 1 {
			log.Debug().Strs("candidates", matches).Msg("serial: multiple devices, using first")
		}
		return link.Device{Path: matches[0]}, nil
	}
	return link.Device{}, fmt.Errorf("%w: scanned %s", link.ErrNoDevice, strings.Join(o.cfg.Globs, " "))
}

// Open opens dev at the configured baud rate. The handle blocks on
// reads until bytes arrive, which is what the session read pump wants.
func (o *Opener) Open(ctx context.Context, dev link.Device) (link.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := &goserial.Mode{
		BaudRate: o.cfg.BaudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}
	port, err := goserial.Open(dev.Path, mode)
	if err != nil {
		return nil, err
	}
	log.Info().Str("device", dev.Path).Int("baud", o.cfg.BaudRate).Msg("serial: opened")
	return port, nil
}
