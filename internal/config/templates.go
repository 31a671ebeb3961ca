package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay":
		return relayTemplate, nil
	case "tap":
		return tapTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const relayTemplate = `name = "meshlink-relay"
addr = ":9200"
cors_origins = ["http://localhost:3000"]
auth_token = "temp-relay-token"
connect_on_boot = true
heartbeat = "5s"

[serial]
path = ""
globs = ["/dev/ttyACM*", "/dev/ttyUSB*", "/dev/cu.usbmodem*"]
baud_rate = 115200

[link]
keepalive_seconds = 10
read_buffer_bytes = 4096

[reports]
capacity = 256

[tls]
cert_file = ""
key_file = ""
`

const tapTemplate = `[serial]
path = ""
globs = ["/dev/ttyACM*", "/dev/ttyUSB*", "/dev/cu.usbmodem*"]
baud_rate = 115200
`
