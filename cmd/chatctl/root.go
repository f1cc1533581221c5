package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/matheus3301/chatrelay/internal/config"
	"github.com/matheus3301/chatrelay/internal/profile"
	"github.com/matheus3301/chatrelay/internal/store"
	"github.com/spf13/cobra"
)

var (
	profileFlag string
	jsonOut     bool
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Inspect and maintain chat profiles",
	Long: `chatctl inspects a chat profile: whether its client is running and
connected, the local message cache, and messages that could not be sent.

Commands that read the cache work whether or not the client is running.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
}

// resolveProfile returns the validated profile name for this invocation.
func resolveProfile() (string, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(profile.ConfigPath())
}

// openStore opens and migrates the profile's cache.
func openStore(name string) (*store.DB, error) {
	if err := profile.EnsureDir(name); err != nil {
		return nil, err
	}
	db, err := store.Open(profile.DBPath(name))
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}
