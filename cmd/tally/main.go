package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/chosenoffset/tally/internal/config"
	"github.com/chosenoffset/tally/pkg/tally"
	"github.com/chosenoffset/tally/pkg/tally/commands"
	"github.com/chosenoffset/tally/pkg/tally/server"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("tally", flag.ContinueOnError)
	port := fs.Int("port", cfg.Port, "HTTP listen port")
	expr := fs.String("e", "", "evaluate one expression, print the result and exit")
	debug := fs.Bool("debug", cfg.Debug(), "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Port = *port
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.New(os.Stderr, "tally: ", log.LstdFlags)
	debugf := func(format string, a ...interface{}) {
		if cfg.Debug() {
			logger.Printf(format, a...)
		}
	}

	engine := tally.NewEngine()
	engine.SetLogger(logger)
	engine.SetLimits(tally.Limits{
		MaxExpressionLength: cfg.MaxExpression,
		MaxComplexity:       cfg.MaxComplexity,
	})

	if *expr != "" {
		result, err := engine.Evaluate(*expr)
		if err != nil {
			return errors.New(commands.UserMessage(err, cfg.CommandPrefix))
		}
		fmt.Fprintln(stdout, result)
		return nil
	}

	registry := commands.NewRegistry()
	if err := commands.RegisterDefaults(registry, engine, cfg.CommandPrefix); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	senders := commands.NewAllowList(cfg.Senders()...)
	if senders.Len() == 0 {
		logger.Printf("no TALLY_OWNER_ID or TALLY_ALLOWED_SENDERS set; commands will be ignored")
	}
	debugf("%d sender(s) allowed, prefix %q", senders.Len(), cfg.CommandPrefix)

	dispatcher := commands.NewDispatcher(registry, senders, cfg.CommandPrefix, logger)
	srv := server.NewServer(engine, dispatcher, server.Options{
		Addr:       ":" + strconv.Itoa(cfg.Port),
		MaxClients: cfg.MaxWSClients,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		srv.Close()
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	stats := engine.Stats()
	debugf("evaluations: %d total, %d succeeded, %d failed", stats.Total, stats.Succeeded, stats.Failed)
	return nil
}
