package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/televisit/internal/adapters/appointment"
	"github.com/dkeye/televisit/internal/adapters/rtc"
	wssignal "github.com/dkeye/televisit/internal/adapters/signal"
	"github.com/dkeye/televisit/internal/app"
	"github.com/dkeye/televisit/internal/app/orch"
	"github.com/dkeye/televisit/internal/config"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/domain"
	"github.com/dkeye/televisit/internal/signaling"
	statushttp "github.com/dkeye/televisit/internal/transport/http"
)

// unavailableTransport fails registration when no media engine could be
// built.
type unavailableTransport struct{ err error }

func (t unavailableTransport) Register(context.Context, domain.Address) (core.Registration, error) {
	return nil, t.err
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("agent", pflag.ExitOnError)
	flags.String("session", "", "appointment session id")
	flags.String("role", "", "local role: Doctor or Patient")
	flags.String("name", "", "local display name")
	flags.String("remote-name", "", "remote display name")
	flags.String("signal-url", "", "signaling websocket url")
	flags.String("relay-url", "", "relay credential endpoint")
	flags.String("appointment-url", "", "appointment service base url")
	flags.String("status-addr", "", "listen address of the status API")
	flags.Bool("loopback", false, "include loopback ICE candidates")
	flags.String("log-level", "", "log level")
	_ = flags.Parse(os.Args[1:])

	if err := config.LoadEnv(); err != nil {
		log.Warn().Err(err).Msg("failed to load env file")
	}
	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	role, err := domain.ParseRole(cfg.Agent.Role)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid role")
	}
	if cfg.Agent.Session == "" {
		log.Fatal().Msg("--session is required")
	}

	dial := wssignal.Dialer(cfg.Agent.SignalURL, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})
	deps := orch.Deps{
		Transport: func(relay domain.RelayConfig) core.SignalTransport {
			engine, err := rtc.NewEngine(relay, rtc.EngineOptions{Loopback: cfg.Agent.Loopback})
			if err != nil {
				return unavailableTransport{err: err}
			}
			return signaling.NewClientTransport(dial, engine)
		},
		Device:       &rtc.SyntheticDevice{},
		Relay:        app.NewRelayProvider(cfg.Relay.Endpoint, cfg.Relay.Timeout, cfg.Relay.Fallback, nil),
		DialInterval: cfg.Dial.Interval,
	}
	if cfg.Agent.AppointmentURL != "" {
		deps.Appointments = appointment.NewClient(cfg.Agent.AppointmentURL, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The session outlives ctx: a signal is the user's end-call, which
	// must run to completion.
	session, release := orch.StartSession(context.Background(), orch.Params{
		SessionID:  domain.SessionID(cfg.Agent.Session),
		LocalName:  cfg.Agent.Name,
		RemoteName: cfg.Agent.RemoteName,
		LocalRole:  role,
	}, deps)
	defer release()

	status := statushttp.NewStatusServer(session)
	srv := &http.Server{
		Addr:    cfg.Agent.StatusAddr,
		Handler: status.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("status API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		status.Run(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			log.Info().Msg("ending call")
			session.End()
		case <-session.Done():
			snap := session.Snapshot()
			log.Info().Str("phase", snap.Phase.String()).Str("status", snap.Status).Msg("session over")
		}

		status.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("agent stopped with error")
	}
	log.Info().Msg("Agent exited")
}
