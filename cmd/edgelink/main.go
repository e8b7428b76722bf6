package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/edgelink/internal/admin"
	"github.com/danmuck/edgelink/internal/config"
	"github.com/danmuck/edgelink/internal/gateway"
	"github.com/danmuck/edgelink/internal/logging"
	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol"
	"github.com/danmuck/edgelink/internal/rest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "cmd/edgelink/config.toml", "path to the edgelink config file")
	dump := flag.Bool("dump", false, "print the effective config and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgelink: %v\n", err)
		os.Exit(1)
	}
	if *dump {
		out, err := config.Dump(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "edgelink: %v\n", err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(out)
		return
	}

	logging.ConfigureWith(cfg.LoggingConfig())
	observability.InitLogger("edgelink")
	observability.RegisterMetrics()
	log.Info().Str("path", *configPath).Msg("loaded config")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("edgelink stopped")
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher, err := rest.New(cfg.RESTConfig())
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	var endpoint gateway.EndpointSource = rest.NewGatewayEndpoint(dispatcher)
	if cfg.Gateway.URL != "" {
		endpoint = gateway.StaticEndpoint(cfg.Gateway.URL)
	}

	client, err := gateway.New(cfg.GatewayConfig(), endpoint, eventLogger{log: observability.Component("events")})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.Run(ctx); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		// a clean gateway exit still stops the admin server
		stop()
		return nil
	})
	if cfg.Admin.Enabled {
		server := admin.New(cfg.AdminConfig(), client, dispatcher.Table())
		g.Go(func() error {
			return server.Serve(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return dispatcher.Close()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// eventLogger logs session lifecycle and dispatch names.
type eventLogger struct {
	gateway.NopHandler
	log zerolog.Logger
}

func (h eventLogger) OnDispatch(event string, data json.RawMessage) {
	h.log.Debug().Str("event", event).Int("bytes", len(data)).Msg("dispatch")
}

func (h eventLogger) OnReady(ready protocol.Ready) {
	h.log.Info().Str("session", ready.SessionID).Int("version", ready.Version).Msg("ready")
}

func (h eventLogger) OnResumed() {
	h.log.Info().Msg("resumed")
}

func (h eventLogger) OnReconnecting(attempt int) {
	h.log.Info().Int("attempt", attempt).Msg("reconnecting")
}
