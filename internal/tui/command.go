package tui

import "strings"

// CommandPrefix marks composer input as a command instead of a message.
const CommandPrefix = "/"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses composer input. It returns false for plain messages.
// A doubled prefix sends the text literally with one prefix removed.
func ParseCommand(input string) (Command, bool, string) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, CommandPrefix) {
		return Command{}, false, input
	}
	if strings.HasPrefix(input, CommandPrefix+CommandPrefix) {
		return Command{}, false, input[len(CommandPrefix):]
	}
	parts := strings.SplitN(input[len(CommandPrefix):], " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd, true, ""
}
