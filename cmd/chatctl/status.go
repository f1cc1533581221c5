package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/chatrelay/internal/health"
	"github.com/matheus3301/chatrelay/internal/lock"
	"github.com/matheus3301/chatrelay/internal/profile"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
)

var statusTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the client is running and connected",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 3*time.Second, "probe timeout")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	name, err := resolveProfile()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	report, err := health.Probe(ctx, profile.SocketPath(name))
	if err != nil {
		if jsonOut {
			return outputJSON(map[string]any{"profile": name, "running": false})
		}
		fmt.Printf("Profile:  %s\n", name)
		fmt.Println("Client:   not running")
		return nil
	}

	if jsonOut {
		rt, err := protojson.Marshal(report.Realtime)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "{\"profile\":%q,\"running\":true,\"realtime\":%s}\n", name, rt)
		return nil
	}

	fmt.Printf("Profile:  %s\n", name)
	if holder, err := lock.ReadHolder(profile.Dir(name)); err == nil {
		fmt.Printf("Client:   running (pid %d, since %s)\n", holder.PID, holder.Since.Format(time.RFC3339))
	} else {
		fmt.Println("Client:   running")
	}
	if report.Connected() {
		fmt.Println("Realtime: connected")
	} else {
		fmt.Println("Realtime: disconnected")
	}
	return nil
}
