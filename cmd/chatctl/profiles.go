package main

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatrelay/internal/config"
	"github.com/matheus3301/chatrelay/internal/health"
	"github.com/matheus3301/chatrelay/internal/profile"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfilesList,
}

var profilesDefaultCmd = &cobra.Command{
	Use:   "default <name>",
	Short: "Set the default profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesDefault,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesListCmd, profilesDefaultCmd)
}

type profileInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	Default bool   `json:"default"`
}

func runProfilesList(cmd *cobra.Command, _ []string) error {
	names, err := profile.List()
	if err != nil {
		return err
	}
	current := profile.Resolve("")

	infos := make([]profileInfo, 0, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Second)
		_, probeErr := health.Probe(ctx, profile.SocketPath(name))
		cancel()
		infos = append(infos, profileInfo{
			Name:    name,
			Path:    profile.Dir(name),
			Running: probeErr == nil,
			Default: name == current,
		})
	}

	if jsonOut {
		return outputJSON(infos)
	}
	if len(infos) == 0 {
		fmt.Println("No profiles found.")
		return nil
	}
	for _, p := range infos {
		running := "stopped"
		if p.Running {
			running = "running"
		}
		marker := " "
		if p.Default {
			marker = "*"
		}
		fmt.Printf("%s %-20s %s (%s)\n", marker, p.Name, p.Path, running)
	}
	return nil
}

func runProfilesDefault(_ *cobra.Command, args []string) error {
	name := args[0]
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.DefaultProfile = name
	if err := config.Save(profile.ConfigPath(), cfg); err != nil {
		return err
	}
	fmt.Printf("Default profile set to %s.\n", name)
	return nil
}
