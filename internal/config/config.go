package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type RelayConfig struct {
	Name          string   `toml:"name"`
	Addr          string   `toml:"addr"`
	CorsOrigins   []string `toml:"cors_origins"`
	AuthToken     string   `toml:"auth_token"`
	ConnectOnBoot bool     `toml:"connect_on_boot"`
	Heartbeat     string   `toml:"heartbeat"`

	Serial  SerialConfig  `toml:"serial"`
	Link    LinkConfig    `toml:"link"`
	Reports ReportsConfig `toml:"reports"`
	TLS     TLSConfig     `toml:"tls"`
}

type SerialConfig struct {
	Path     string   `toml:"path"`
	Globs    []string `toml:"globs"`
	BaudRate int      `toml:"baud_rate"`
}

type LinkConfig struct {
	KeepaliveSeconds int `toml:"keepalive_seconds"`
	ReadBufferBytes  int `toml:"read_buffer_bytes"`
}

type ReportsConfig struct {
	Capacity int `toml:"capacity"`
}

type TLSConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

func (t TLSConfig) Enabled() bool {
	return strings.TrimSpace(t.CertFile) != "" || strings.TrimSpace(t.KeyFile) != ""
}

type TapConfig struct {
	Serial SerialConfig `toml:"serial"`
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	var cfg RelayConfig
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "meshlink-relay"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9200"
	}
	if cfg.Link.KeepaliveSeconds == 0 {
		cfg.Link.KeepaliveSeconds = 10
	}
	if cfg.Reports.Capacity == 0 {
		cfg.Reports.Capacity = 256
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func LoadTapConfig(path string) (TapConfig, error) {
	var cfg TapConfig
	if err := loadToml(path, &cfg); err != nil {
		return TapConfig{}, err
	}
	if err := ValidateSerialSection(cfg.Serial); err != nil {
		return TapConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("relay config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("relay config missing addr")
	}
	if raw := strings.TrimSpace(cfg.Heartbeat); raw != "" {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("relay heartbeat is not a duration: %w", err)
		}
	}
	if cfg.Link.KeepaliveSeconds < 0 {
		return fmt.Errorf("link keepalive_seconds must not be negative")
	}
	if cfg.Link.ReadBufferBytes < 0 {
		return fmt.Errorf("link read_buffer_bytes must not be negative")
	}
	if cfg.Reports.Capacity < 0 {
		return fmt.Errorf("reports capacity must not be negative")
	}
	if err := ValidateSerialSection(cfg.Serial); err != nil {
		return err
	}
	hasCert := strings.TrimSpace(cfg.TLS.CertFile) != ""
	hasKey := strings.TrimSpace(cfg.TLS.KeyFile) != ""
	if hasCert != hasKey {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	return nil
}

func ValidateSerialSection(cfg SerialConfig) error {
	if cfg.BaudRate < 0 {
		return fmt.Errorf("serial baud_rate must not be negative")
	}
	for _, pattern := range cfg.Globs {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("serial globs must not contain empty patterns")
		}
	}
	return nil
}
