// cmd/gameserver/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"tableturn/internal/auth"
	"tableturn/internal/config"
	"tableturn/internal/database"
	"tableturn/internal/journal"
	"tableturn/internal/middleware"
	"tableturn/internal/server"
	"tableturn/internal/tictactoe"
	"tableturn/internal/transport"
)

func main() {
	cmd := &cli.Command{
		Name:  "gameserver",
		Usage: "host turn-based game sessions over WebSockets",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "listening port (overrides PORT)"},
			&cli.StringFlag{Name: "secret", Usage: "HS256 shared secret (overrides JWT_SECRET)"},
			&cli.IntFlag{Name: "tick", Usage: "tick period in milliseconds (overrides TICK_MS)"},
			&cli.StringFlag{Name: "log-level", Usage: "log verbosity (overrides LOG_LEVEL)"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logrus.Fatalf("gameserver exited: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("secret") {
		cfg.Secret = cmd.String("secret")
	}
	if cmd.IsSet("tick") {
		cfg.TickMS = int(cmd.Int("tick"))
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	verifier := auth.NewService(cfg.Secret, cfg.Issuers, cfg.SignIssuer)
	ts := transport.NewServer(logger, "game", nil)
	gs := server.NewGameServer(logger, ts, verifier, tictactoe.NewModuleFactory(logger), time.Duration(cfg.TickMS)*time.Millisecond)
	ts.SetSink(gs)

	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warnf("result store disabled: %v", err)
		} else {
			defer db.Close()
			if err := db.EnsureSchema(ctx); err != nil {
				logger.Warnf("result store disabled: %v", err)
			} else {
				gs.AddRecorder(db)
				logger.Info("recording game results to Postgres")
			}
		}
	}
	if cfg.RedisAddr != "" {
		j, err := journal.Connect(cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			logger.Warnf("event journal disabled: %v", err)
		} else {
			defer j.Close()
			gs.AddRecorder(j)
			logger.Info("journaling game results to Redis")
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(ts.Handler()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: mux}

	go gs.ProcessActions()
	go gs.UpdateGames()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	logger.Infof("game server listening on %s", httpSrv.Addr)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shCtx)
	ts.Shutdown("server shutting down")
	gs.Shutdown()
	return nil
}
