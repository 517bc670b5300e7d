package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Vennela115/CampusVinculum/internal/coordinator"
	"github.com/Vennela115/CampusVinculum/internal/logx"
	"github.com/Vennela115/CampusVinculum/internal/presence"
	"github.com/Vennela115/CampusVinculum/internal/server"
	"github.com/Vennela115/CampusVinculum/internal/sessions"
	"github.com/Vennela115/CampusVinculum/internal/store"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := server.LoadConfig(viper.GetViper())
	server.SetConfig(cfg)
	applied := server.CurrentConfig()

	logger := logx.Init(applied.Log.Level, applied.Log.Format)
	gin.SetMode(gin.ReleaseMode)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, applied.StoreTimeout)
	st, err := store.Open(openCtx, store.Config{Driver: applied.Store.Driver, DSN: applied.Store.DSN})
	cancelOpen()
	if err != nil {
		logger.Error().Err(err).Str("driver", applied.Store.Driver).Msg("Failed to open store")
		return err
	}
	logger.Info().Str("driver", applied.Store.Driver).Msg("Store ready")

	opts := []coordinator.Option{
		coordinator.WithStoreTimeout(applied.StoreTimeout),
		coordinator.WithHistoryLimit(applied.HistoryLimit),
	}

	var mirror *presence.RedisMirror
	if applied.RedisURL != "" {
		client, err := presence.Connect(ctx, applied.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("Presence mirror disabled")
		} else {
			mirror = presence.NewRedisMirror(client, presence.DefaultKey)
			if err := mirror.Reset(ctx); err != nil {
				logger.Warn().Err(err).Msg("Could not clear stale presence")
			}
			opts = append(opts, coordinator.WithPresenceSink(mirror))
		}
	}

	coord := coordinator.New(coordinator.NewRegistry(), st, st, opts...)
	hub := server.NewHub(coord)
	srv := server.New(server.Options{
		Hub:      hub,
		Sessions: sessions.NewService(st, coord),
		History:  st,
		Pinger:   st,
	})
	httpServer := server.CreateServer(applied.Port, srv.Handler())

	server.StartHub(hub)

	g, gctx := errgroup.WithContext(ctx)
	mirrorCtx, stopMirror := context.WithCancel(gctx)
	mirrorDone := make(chan struct{})
	g.Go(func() error {
		if err := server.StartServer(httpServer); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if mirror != nil {
		g.Go(func() error {
			defer close(mirrorDone)
			return mirror.Run(mirrorCtx)
		})
	} else {
		close(mirrorDone)
	}

	go func() {
		if err := g.Wait(); err != nil {
			logger.Error().Err(err).Msg("Server stopped unexpectedly")
			_ = hub.Shutdown(applied.ShutdownTimeout)
			_ = st.Close()
			os.Exit(1)
		}
	}()

	httpStopped := make(chan struct{})
	hubStopped := make(chan struct{})
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		applied.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				defer close(httpStopped)
				logger.Info().Msg("Graceful shutdown initiated")
				return server.ShutdownServer(httpServer, applied.ShutdownTimeout)
			},
			"hub": func(ctx context.Context) error {
				defer close(hubStopped)
				<-httpStopped
				return hub.Shutdown(applied.ShutdownTimeout)
			},
			"presence-mirror": func(ctx context.Context) error {
				if mirror == nil {
					return nil
				}
				<-hubStopped
				stopMirror()
				<-mirrorDone
				return mirror.Close()
			},
			"store": func(ctx context.Context) error {
				<-hubStopped
				return st.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("Application exited")
	stopMirror()
	os.Exit(exitCode)
	return nil
}
