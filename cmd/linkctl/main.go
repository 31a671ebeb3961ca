package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vitalmesh/meshlink/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "relay config path (built-in defaults when empty)")
	flag.Parse()

	cfg := relay.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := relay.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
		os.Exit(1)
	}
}
