package config

import (
	"time"

	"github.com/vitalmesh/meshlink/internal/link"
	"github.com/vitalmesh/meshlink/internal/serial"
)

// SerialOptions maps the [serial] section onto the opener's options.
// Zero values fall through to the opener's own defaults.
func SerialOptions(cfg SerialConfig) serial.Config {
	return serial.Config{
		Path:     cfg.Path,
		Globs:    cfg.Globs,
		BaudRate: cfg.BaudRate,
	}
}

// ManagerOptions maps the [link] section onto a manager config. The
// caller still wires the opener, control encoder and consumer.
func ManagerOptions(cfg LinkConfig) link.ManagerConfig {
	out := link.DefaultManagerConfig()
	if cfg.KeepaliveSeconds > 0 {
		out.KeepaliveInterval = time.Duration(cfg.KeepaliveSeconds) * time.Second
	}
	if cfg.ReadBufferBytes > 0 {
		out.ReadBufferSize = cfg.ReadBufferBytes
	}
	return out
}
