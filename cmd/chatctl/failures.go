package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	failuresClear bool
	failuresLimit int
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List messages that failed to send",
	Args:  cobra.NoArgs,
	RunE:  runFailures,
}

func init() {
	rootCmd.AddCommand(failuresCmd)
	failuresCmd.Flags().BoolVar(&failuresClear, "clear", false, "delete recorded failures")
	failuresCmd.Flags().IntVarP(&failuresLimit, "limit", "n", 50, "maximum failures to list")
}

func runFailures(_ *cobra.Command, _ []string) error {
	name, err := resolveProfile()
	if err != nil {
		return err
	}
	db, err := openStore(name)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if failuresClear {
		n, err := db.ClearFailures()
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d failures.\n", n)
		return nil
	}

	failures, err := db.ListFailures(failuresLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(failures)
	}
	if len(failures) == 0 {
		fmt.Println("No failed sends.")
		return nil
	}
	for _, f := range failures {
		fmt.Printf("%s  %-20s attempts=%d  %q\n    %s\n",
			f.FailedAt.Local().Format(time.DateTime), f.Conversation, f.Attempts, f.Content, f.Err)
	}
	return nil
}
