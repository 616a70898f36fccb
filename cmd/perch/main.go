package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"perch/internal/cmdlog"
	"perch/internal/config"
	"perch/internal/engine"
	"perch/internal/logging"
	"perch/internal/metrics"
	"perch/internal/store/sqlitestore"
	"perch/internal/theme"
	"perch/internal/xclient"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "check":
		cmdCheck()
	case "run":
		cmdRun()
	default:
		printHelp()
	}
}

const version = "0.1.0"

func printHelp() {
	theme.PrintBanner()
	fmt.Println("perch", version)
	fmt.Println("Usage: perch <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init    Create a config file at ./perch.yaml")
	fmt.Println("  check   Validate config and policy table")
	fmt.Println("  run     Mirror the tracked account's timeline")
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./perch.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
}

func cmdCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cfgPath := fs.String("config", "./perch.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	err := cmdlog.Run("check", func() error {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		return cfg.Validate()
	})
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Println("Config OK")
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./perch.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	err := cmdlog.Run("run", func() error {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		// Policy and credential problems are fatal before anything starts.
		if err := cfg.Validate(); err != nil {
			return err
		}
		metrics.StartServer(cfg.Metrics.Addr)

		db, err := sqlitestore.Open(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := xclient.New(cfg.API.BaseURL, xclient.Credentials{
			ConsumerKey:    cfg.Credentials.ConsumerKey,
			ConsumerSecret: cfg.Credentials.ConsumerSecret,
			AccessToken:    cfg.Credentials.AccessToken,
			AccessSecret:   cfg.Credentials.AccessSecret,
		})
		eng, err := engine.New(ctx, cfg, db, client)
		if err != nil {
			return err
		}
		logging.Info("engine_start", map[string]any{"user": cfg.Account.Handle})
		return eng.Run(ctx)
	})
	if err != nil && err != context.Canceled {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
