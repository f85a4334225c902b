package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/verinews/pkg/chat"
	"github.com/go-go-golems/verinews/pkg/config"
	"github.com/go-go-golems/verinews/pkg/events"
	"github.com/go-go-golems/verinews/pkg/server"
	"github.com/go-go-golems/verinews/pkg/store"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API for the web application and the browser extension",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			verifier := settings.NewVerifier(verify.NewMetrics(reg))

			st, closeStore, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer closeStore()

			router, err := events.NewEventRouter(events.WithLogger(events.NewWatermill(log.Logger)))
			if err != nil {
				return err
			}
			defer func() { _ = router.Close() }()
			router.AddHandler("log", events.TopicChatEvents, router.LogEvents)

			registry := server.NewRegistry(verifier, st,
				server.WithSessionOptions(
					chat.WithTimeout(settings.VerifyTimeout),
					chat.WithMaxClaimLength(settings.MaxClaimLength),
				),
				server.WithRegistrySinks(router.Sink()),
			)
			srv := server.NewServer(registry,
				server.WithEventRouter(router),
				server.WithGatherer(reg),
			)

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return router.Run(ctx)
			})
			if settings.SessionTTL > 0 {
				// sessions idle for a whole TTL are likely gone from redis too
				eg.Go(func() error {
					return registry.RunEviction(ctx, settings.SessionTTL/4, settings.SessionTTL)
				})
			}
			eg.Go(func() error {
				<-router.Running()
				return srv.Run(ctx, settings.ListenAddress)
			})

			err = eg.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}
	config.AddServerFlags(cmd.Flags())
	return cmd
}

func openStore(ctx context.Context, settings *config.Settings) (store.Store, func(), error) {
	if settings.RedisURL == "" {
		log.Info().Msg("keeping chats in memory")
		return store.NewMemoryStore(), func() {}, nil
	}

	rs, err := store.NewRedisStoreFromURL(settings.RedisURL, store.WithTTL(settings.SessionTTL))
	if err != nil {
		return nil, nil, err
	}
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, nil, errors.Wrap(err, "connecting to redis")
	}
	log.Info().Dur("ttl", settings.SessionTTL).Msg("keeping chats in redis")
	return rs, func() { _ = rs.Close() }, nil
}
