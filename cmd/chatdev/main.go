package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/devserver"
	"github.com/matheus3301/chatrelay/internal/logging"
	"go.uber.org/zap"
)

// userFlags collects repeated --user token:id:name values.
type userFlags []string

func (u *userFlags) String() string { return strings.Join(*u, ",") }

func (u *userFlags) Set(v string) error {
	if strings.Count(v, ":") < 2 {
		return fmt.Errorf("want token:id:name, got %q", v)
	}
	*u = append(*u, v)
	return nil
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	debug := flag.Bool("debug", false, "debug logging")
	var users userFlags
	flag.Var(&users, "user", "accepted user as token:id:name (repeatable; none = anonymous access)")
	flag.Parse()

	logger := logging.NewConsole(*debug)
	defer func() { _ = logger.Sync() }()

	srv := devserver.New(logger)
	for _, u := range users {
		parts := strings.SplitN(u, ":", 3)
		srv.AddUser(parts[0], chat.Sender{ID: parts[1], Name: parts[2]})
		logger.Info("user registered", zap.String("id", parts[1]), zap.String("name", parts[2]))
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dev backend listening", zap.String("addr", *addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		srv.DropConnections()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
}
