package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/pipeline"
	"github.com/rivo/tview"
)

// MessageThread displays the visible message list and a composer for one
// conversation.
type MessageThread struct {
	*tview.Flex
	messages *tview.TextView
	composer *tview.InputField
	selfID   string
	onSend   func(text string)
}

// NewMessageThread creates a thread view. Messages from selfID render as "You".
func NewMessageThread(selfID string) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetTitle(" Messages ")

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetTitle(" Compose (i to focus) ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, false).
		AddItem(composer, 3, 0, true)

	mt := &MessageThread{
		Flex:     flex,
		messages: messages,
		composer: composer,
		selfID:   selfID,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if strings.TrimSpace(text) != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// SetConversation updates the title.
func (mt *MessageThread) SetConversation(c chat.Conversation) {
	mt.messages.SetTitle(fmt.Sprintf(" %s ", c))
}

// SetOnSend sets the callback when the composer submits text.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update re-renders the list. The view keeps its scroll position unless
// scrollToEnd is set.
func (mt *MessageThread) Update(entries []pipeline.Entry, scrollToEnd bool) {
	row, col := mt.messages.GetScrollOffset()
	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, FormatEntries(entries, mt.selfID))
	if scrollToEnd {
		mt.messages.ScrollToEnd()
	} else {
		mt.messages.ScrollTo(row, col)
	}
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

// FormatEntries renders entries as tview-tagged text, oldest first. Pending
// entries are dimmed and annotated with their retry count.
func FormatEntries(entries []pipeline.Entry, selfID string) string {
	var b strings.Builder
	for _, e := range entries {
		m := e.Message
		sender := m.Sender.Name
		if sender == "" {
			sender = m.SenderID
		}
		if selfID != "" && m.SenderID == selfID {
			sender = "You"
		}

		status := formatTimestamp(m.CreatedAt)
		body := tview.Escape(sanitizeForTerminal(m.Content))
		if e.Pending {
			status = "sending"
			if e.Retries > 0 {
				status = fmt.Sprintf("retry %d", e.Retries)
			}
			body = "[::d]" + body + "[-:-:-]"
		}
		fmt.Fprintf(&b, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)), status, body)
	}
	return b.String()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}
