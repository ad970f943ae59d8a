package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/luma/ycommand/internal/env"
	"github.com/luma/ycommand/internal/server"
)

func main() {
	ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer signalStop()

	conf, err := env.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := server.New(conf, log).Run(ctx); err != nil {
		log.Error("Device stopped", zap.Error(err))
		os.Exit(1)
	}
}
