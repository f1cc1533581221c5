package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input   string
		isCmd   bool
		name    string
		args    string
		message string
	}{
		{"hello", false, "", "", "hello"},
		{"  hi there ", false, "", "", "hi there"},
		{"/quit", true, "quit", "", ""},
		{"/Open  thread:t1 ", true, "open", "thread:t1", ""},
		{"//not a command", false, "", "", "/not a command"},
	}
	for _, tt := range tests {
		cmd, isCmd, msg := ParseCommand(tt.input)
		if isCmd != tt.isCmd {
			t.Errorf("ParseCommand(%q) isCmd = %v", tt.input, isCmd)
			continue
		}
		if cmd.Name != tt.name || cmd.Args != tt.args || msg != tt.message {
			t.Errorf("ParseCommand(%q) = %+v, %q", tt.input, cmd, msg)
		}
	}
}
