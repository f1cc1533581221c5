package main

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <channel:id|thread:id>",
	Short: "Print cached messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum messages to print")
}

func runHistory(_ *cobra.Command, args []string) error {
	conv, err := chat.ParseConversation(args[0])
	if err != nil {
		return err
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

	msgs, err := db.ListMessages(conv, time.Time{}, historyLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return outputJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Println("No cached messages.")
		return nil
	}
	for _, m := range msgs {
		printMessage(m)
	}
	return nil
}

func printMessage(m chat.Message) {
	author := m.Sender.Name
	if author == "" {
		author = m.SenderID
	}
	fmt.Printf("%s  %-16s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), author, m.Content)
}
