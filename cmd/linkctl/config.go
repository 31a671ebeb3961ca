package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vitalmesh/meshlink/internal/config"
	"github.com/vitalmesh/meshlink/internal/relay"
)

// loadServiceConfig overlays file settings onto the service defaults.
// Only keys actually present in the file override anything.
func loadServiceConfig(path string) (relay.ServiceConfig, error) {
	cfg := relay.DefaultServiceConfig()

	var raw config.RelayConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.NodeID = name
		}
	}

	if meta.IsDefined("addr") {
		if addr := strings.TrimSpace(raw.Addr); addr != "" {
			cfg.Addr = addr
		}
	}

	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}

	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}

	if meta.IsDefined("connect_on_boot") {
		cfg.ConnectOnBoot = raw.ConnectOnBoot
	}

	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return relay.ServiceConfig{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.HeartbeatInterval = d
	}

	if meta.IsDefined("serial") {
		cfg.Serial = config.SerialOptions(raw.Serial)
	}

	if meta.IsDefined("link") {
		cfg.Link = config.ManagerOptions(raw.Link)
	}

	if meta.IsDefined("reports", "capacity") {
		cfg.ReportCapacity = raw.Reports.Capacity
	}

	if meta.IsDefined("tls", "cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLS.CertFile)
	}

	if meta.IsDefined("tls", "key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}

	return cfg, nil
}
