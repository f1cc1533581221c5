package main

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/spf13/cobra"
)

var (
	searchConversation string
	searchLimit        int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search cached messages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchConversation, "conversation", "c", "", "restrict to channel:<id> or thread:<id>")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum results")
}

func runSearch(_ *cobra.Command, args []string) error {
	var conv chat.Conversation
	if searchConversation != "" {
		c, err := chat.ParseConversation(searchConversation)
		if err != nil {
			return err
		}
		conv = c
	}
	name, err := resolveProfile()
	if err != nil {
		return err
	}
	db, err := openStore(name)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	results, err := db.SearchMessages(strings.Join(args, " "), conv, searchLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-20s %s\n", r.Message.Conversation(), r.Snippet)
	}
	return nil
}
