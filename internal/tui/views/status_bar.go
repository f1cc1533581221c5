package views

import (
	"fmt"

	"github.com/matheus3301/chatrelay/internal/realtime"
	"github.com/matheus3301/chatrelay/internal/tui/model"
	"github.com/rivo/tview"
)

// StatusBar displays the profile, the connection state, key hints and the
// current flash message.
type StatusBar struct {
	*tview.TextView
	profile string
	hints   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(profile string) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, profile: profile}
}

// SetHints sets the key hint text shown after the state.
func (sb *StatusBar) SetHints(hints string) {
	sb.hints = hints
}

// Update renders the bar from a view snapshot.
func (sb *StatusBar) Update(v model.View) {
	sb.Clear()
	_, _ = fmt.Fprint(sb, FormatStatus(sb.profile, v, sb.hints))
}

// FormatStatus renders the status line.
func FormatStatus(profile string, v model.View, hints string) string {
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", tview.Escape(profile), stateTag(v.ConnState))
	if v.Conversation.Valid() {
		line += " | " + tview.Escape(v.Conversation.String())
	}
	if hints != "" {
		line += " | [::d]" + tview.Escape(hints) + "[-:-:-]"
	}
	if v.HasFlash {
		color := "yellow"
		if v.Flash.Level == model.FlashErr {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(v.Flash.Text))
	}
	return line
}

func stateTag(s realtime.State) string {
	switch s {
	case realtime.Open:
		return "[green]" + string(s) + "[-]"
	case realtime.Connecting:
		return "[yellow]" + string(s) + "[-]"
	case realtime.Closed:
		return "[red]" + string(s) + "[-]"
	default:
		return string(s)
	}
}
