package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/df07/go-progressive-pathtracer/pkg/config"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/web/server"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "TOML configuration file")
	port := flag.Int("port", 0, "Port to serve on (overrides the configured address)")
	scenesDir := flag.String("scenes", "", "Directory with scene files (overrides the configuration)")
	watch := flag.Bool("watch", false, "Reload scene files in interactive views when they change")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *port > 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", *port)
	}
	if *scenesDir != "" {
		cfg.Server.ScenesDir = *scenesDir
	}
	if *watch {
		cfg.Server.Watch = true
	}

	webServer := server.NewServer(cfg)
	defer webServer.Close()

	// Log to stderr and to the console stream of connected clients
	handler := server.NewConsoleHandler(webServer.Console(), slog.NewTextHandler(os.Stderr, nil))
	core.SetLogger(slog.New(handler))

	core.Logger().Info("Progressive Pathtracer Web Server", "url", "http://localhost"+cfg.Server.Addr)
	if err := webServer.Start(); err != nil {
		core.Logger().Error("server stopped", "err", err)
		os.Exit(1)
	}
}
