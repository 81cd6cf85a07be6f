package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	bridge "github.com/dkeye/costudy/internal/adapters/http"
	"github.com/dkeye/costudy/internal/adapters/rtc"
	sig "github.com/dkeye/costudy/internal/adapters/signal"
	"github.com/dkeye/costudy/internal/app"
	"github.com/dkeye/costudy/internal/app/orch"
	"github.com/dkeye/costudy/internal/config"
	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Debug() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	id := cfg.UserID
	if id == "" {
		id = uuid.NewString()
	}
	self, err := domain.NewUserInfo(domain.UserID(id), cfg.UserName)
	if err != nil {
		log.Fatal().Err(err).Str("user_name", cfg.UserName).Msg("invalid user")
	}

	device, err := rtc.NewDevice(rtc.DefaultICEServers(cfg.ICEServers))
	if err != nil {
		log.Fatal().Err(err).Msg("media engine")
	}
	device.OnRemoteTrack(func(ref domain.TrackRef, _ *rtc.Relay) {
		log.Info().Str("module", "main").Str("peer", string(ref.PeerID)).Str("kind", string(ref.Kind)).Str("track", ref.ID).Msg("remote media flowing")
	})

	connectTimeout, requestTimeout := cfg.Timeouts()
	limiter := sig.NewRateLimiter(map[string]sig.Rule{
		core.MsgSendChat: {Limit: cfg.ChatLimit, Window: cfg.ChatInterval},
	})
	sessions := func() core.SignalSession {
		return sig.NewSession(sig.Options{
			ConnectTimeout: connectTimeout,
			RequestTimeout: requestTimeout,
			ReadLimit:      cfg.ReadLimit,
			PingPeriod:     cfg.PingPeriod,
			MailboxSize:    cfg.MailboxSize,
			SendBuffer:     cfg.SendBuffer,
			Limiter:        limiter,
		})
	}

	o := orch.New(orch.Deps{
		Sessions:    sessions,
		Device:      device,
		Routes:      bridge.NewRouteLookup(cfg.LookupURL, cfg.SignalURL, requestTimeout),
		Policy:      app.JoinPolicy{},
		Self:        self,
		EventBuffer: cfg.EventBuffer,
	})
	go o.Run(ctx)

	hub := bridge.NewHub(app.SimplePolicy{Limit: cfg.EventBuffer}, cfg.EventBuffer)
	go hub.Run(ctx, o.Events())

	tracks := func(kind domain.MediaKind) (core.LocalTrack, error) {
		return rtc.NewLocalTrack(kind, uuid.NewString(), string(self.ID))
	}

	r := bridge.SetupRouter(cfg, o, hub, tracks)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", string(self.ID)).Msg("costudy client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	if cfg.RoomID != "" {
		go func() {
			if err := o.Connect(ctx, domain.RoomID(cfg.RoomID)); err != nil {
				log.Warn().Err(err).Str("room", cfg.RoomID).Msg("initial connect failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
