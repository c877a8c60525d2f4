package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/adapters/bus"
	"github.com/thanhcanhit/bond-hub-call/internal/adapters/device"
	"github.com/thanhcanhit/bond-hub-call/internal/adapters/rtc"
	sigclient "github.com/thanhcanhit/bond-hub-call/internal/adapters/signal"
	"github.com/thanhcanhit/bond-hub-call/internal/app"
	"github.com/thanhcanhit/bond-hub-call/internal/config"
	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "broker":
		runBroker(ctx, cfg)
	case "call":
		if len(os.Args) < 4 {
			usage()
			os.Exit(2)
		}
		kind := domain.MediaAudio
		if len(os.Args) > 4 && os.Args[4] == "video" {
			kind = domain.MediaVideo
		}
		runCall(ctx, cfg, domain.RoomID(os.Args[2]), domain.UserID(os.Args[3]), kind)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  callctl broker")
	fmt.Fprintln(os.Stderr, "  callctl call <roomId> <targetUserId> [audio|video]")
}

// runBroker serves the cross-context bridge relay.
func runBroker(ctx context.Context, cfg *config.Config) {
	broker := bus.NewBroker()
	r := broker.Router(cfg.Mode)

	srv := &http.Server{
		Addr:    cfg.BrokerAddr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", cfg.BrokerAddr).Msg("bridge broker started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("broker error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Broker forced to shutdown")
	}
	log.Info().Msg("Broker exited gracefully")
}

// runCall places one outgoing call and keeps it up until interrupted.
func runCall(ctx context.Context, cfg *config.Config, roomID domain.RoomID, target domain.UserID, kind domain.MediaKind) {
	identity, err := cfg.Identity()
	if err != nil {
		log.Fatal().Err(err).Msg("identity incomplete")
	}

	source, err := device.NewSource()
	if err != nil {
		log.Fatal().Err(err).Msg("device source")
	}

	var buses []core.ContextBus
	if cfg.BrokerAddr != "" {
		sock, err := bus.DialBroadcast(ctx, "ws://"+cfg.BrokerAddr+"/bridge")
		if err != nil {
			log.Warn().Err(err).Msg("bridge broker unreachable, continuing without")
		} else {
			defer sock.Close()
			buses = append(buses, sock)
		}
	}

	orch := app.New(
		cfg,
		identity,
		sigclient.Dialer(cfg, identity),
		source,
		rtc.NewFactory(rtc.DefaultWebRTCConfig(cfg.STUNServers)),
		buses,
		app.Callbacks{
			OnState: func(s domain.CallState) {
				log.Info().Str("state", string(s)).Msg("call state")
			},
			OnFailure: func(name app.FailureName, reason string) {
				log.Error().Str("failure", string(name)).Str("reason", reason).Msg("call failure")
			},
			OnStreams: func(streams []core.RemoteStream) {
				log.Info().Int("streams", len(streams)).Msg("remote streams changed")
			},
			OnRecovered: func(reason string) {
				log.Warn().Str("reason", reason).Msg("session recovered")
			},
		},
	)
	defer orch.Close()

	if _, err := orch.StartCall(ctx, roomID, kind, target, domain.TargetUser); err != nil {
		log.Fatal().Err(err).Msg("start call")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer endCancel()
	if err := orch.End(endCtx); err != nil {
		log.Error().Err(err).Msg("end call")
	}
	log.Info().Msg("Call exited gracefully")
}
