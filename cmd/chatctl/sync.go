package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/chatrelay/internal/api"
	"github.com/matheus3301/chatrelay/internal/auth"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/config"
	"github.com/matheus3301/chatrelay/internal/logging"
	"github.com/matheus3301/chatrelay/internal/profile"
	intsync "github.com/matheus3301/chatrelay/internal/sync"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	syncLimit   int
	syncTimeout time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync <channel:id|thread:id>",
	Short: "Fetch recent history from the server into the cache",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().IntVarP(&syncLimit, "limit", "n", 50, "messages to fetch")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Second, "total operation timeout")
}

func runSync(cmd *cobra.Command, args []string) error {
	conv, err := chat.ParseConversation(args[0])
	if err != nil {
		return err
	}
	name, err := resolveProfile()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.NewConsole(debug)
	defer func() { _ = logger.Sync() }()

	client, err := api.NewClient(api.Options{
		BaseURL:     cfg.Server.BaseURL,
		Credentials: credentials(name, cfg, logger),
		Logger:      logger.Named("api"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
	defer cancel()

	msgs, err := client.ListMessages(ctx, conv, syncLimit)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	db, err := openStore(name)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := intsync.NewEngine(db, nil, logger.Named("sync")).IngestHistoryBatch(msgs); err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(map[string]any{"conversation": conv.String(), "messages": len(msgs)})
	}
	fmt.Printf("Synced %d messages from %s.\n", len(msgs), conv)
	return nil
}

// credentials mirrors the client: the token file wins, a configured cookie is
// the fallback.
func credentials(name string, cfg *config.Config, logger *zap.Logger) auth.HeaderProvider {
	path := cfg.Server.TokenFile
	if path == "" {
		path = profile.TokenPath(name)
	}
	if cfg.Server.Cookie != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return auth.Ambient(http.Header{"Cookie": {cfg.Server.Cookie}})
		}
	}
	return auth.Bearer(auth.NewTokenFile(path, logger))
}
