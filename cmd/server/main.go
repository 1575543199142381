package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"blockfall/server/internal/banlist"
	"blockfall/server/internal/config"
	"blockfall/server/internal/gameserver"
	"blockfall/server/internal/netmgr"
	"blockfall/server/internal/telemetry"
	"blockfall/server/logging"
	"blockfall/server/logging/sinks"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML configuration file")
	printSchema := flag.Bool("print-config-schema", false, "print the configuration JSON schema and exit")
	flag.Parse()

	if *printSchema {
		data, err := json.MarshalIndent(config.Schema(), "", "  ")
		if err != nil {
			log.Fatalf("failed to build config schema: %v", err)
		}
		fmt.Println(string(data))
		return
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	router, err := newRouter(cfg)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(ctx); cerr != nil {
			log.Printf("failed to close logging router: %v", cerr)
		}
	}()

	var bans netmgr.BanStore
	if cfg.Server.BanDBPath != "" {
		store, err := banlist.Open(cfg.Server.BanDBPath)
		if err != nil {
			return fmt.Errorf("open ban database: %w", err)
		}
		defer store.Close()
		bans = store
	}

	srv := gameserver.New(cfg, bans, router, telemetry.WrapLogger(log.Default()))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	go srv.RunConsole(os.Stdin, os.Stdout)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	srv.Stop()
	return nil
}

// newRouter builds the event router from the log section of the config:
// always a console sink, plus a rotating ndjson file when a path is set.
func newRouter(cfg config.Config) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	severity, err := logging.ParseSeverity(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logCfg.MinimumSeverity = severity
	logCfg.Fields = map[string]any{"server": cfg.Server.Name}

	named := []logging.NamedSink{
		{Name: "console", Sink: sinks.NewConsoleSink(os.Stdout)},
	}
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
		named = append(named, logging.NamedSink{
			Name: "json",
			Sink: sinks.NewJSON(rotator, logCfg.JSON.FlushInterval),
		})
		logCfg.EnabledSinks = append(logCfg.EnabledSinks, "json")
	}

	return logging.NewRouter(logging.ClockFunc(time.Now), logCfg, named)
}
