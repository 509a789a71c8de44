package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"AvailWallet/internal/cli/commands"
	"AvailWallet/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	// Load unified config (env + flags)
	cfg := config.NewConfig()

	if cfg.Version {
		printVersion()
		return
	}

	// в CLI пишем только предупреждения, чтобы не мешать выводу команд
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	commands.Logger = logger.Sugar()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// dispatcher
	exitCode := commands.Dispatch(ctx, cfg, flag.Args())
	if exitCode == 0 {
		return
	}
	os.Exit(exitCode)
}

func printVersion() {
	fmt.Printf("AvailWallet CLI\nVersion: %s\nBuild date: %s\n", version, buildDate)
}
