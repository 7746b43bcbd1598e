// cmd/matchmaker/main.go
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
	"tableturn/internal/journal"
	"tableturn/internal/middleware"
	"tableturn/internal/server"
	"tableturn/internal/tictactoe"
	"tableturn/internal/transport"
)

func main() {
	cmd := &cli.Command{
		Name:  "matchmaker",
		Usage: "pool player sessions and issue signed join tokens",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "listening port (overrides PORT, default 9091)"},
			&cli.StringFlag{Name: "secret", Usage: "HS256 shared secret (overrides JWT_SECRET)"},
			&cli.IntFlag{Name: "tick", Usage: "tick period in milliseconds (overrides TICK_MS)"},
			&cli.StringFlag{Name: "log-level", Usage: "log verbosity (overrides LOG_LEVEL)"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logrus.Fatalf("matchmaker exited: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if os.Getenv("PORT") == "" && !cmd.IsSet("port") {
		cfg.Port = 9091
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

	signer := auth.NewService(cfg.Secret, cfg.Issuers, cfg.SignIssuer)
	ts := transport.NewServer(logger, "matchmaking", nil)
	ms := server.NewMatchServer(logger, ts, signer, tictactoe.NewSessionData, tictactoe.NewMatchmaker(logger), time.Duration(cfg.TickMS)*time.Millisecond)
	ts.SetSink(ms)

	if cfg.RedisAddr != "" {
		j, err := journal.Connect(cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			logger.Warnf("event journal disabled: %v", err)
		} else {
			defer j.Close()
			ms.AddRecorder(j)
			logger.Info("journaling matches to Redis")
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(ts.Handler()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: mux}

	go ms.ProcessActions()
	go ms.MatchPlayers()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	logger.Infof("matchmaking server listening on %s", httpSrv.Addr)

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
	ms.Shutdown()
	return nil
}
