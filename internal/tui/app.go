package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/pipeline"
	"github.com/matheus3301/chatrelay/internal/realtime"
	"github.com/matheus3301/chatrelay/internal/tui/keys"
	"github.com/matheus3301/chatrelay/internal/tui/model"
	"github.com/matheus3301/chatrelay/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const flashDuration = 5 * time.Second

// Options configures the terminal app.
type Options struct {
	Registry     *pipeline.Registry
	Bus          *bus.Bus
	Profile      string
	User         chat.Sender
	Conversation chat.Conversation
	// InitialState seeds the status bar until the first state change arrives.
	InitialState realtime.State
	Logger       *zap.Logger
}

// App is a single-conversation terminal client on top of the pipeline registry.
type App struct {
	opts      Options
	app       *tview.Application
	vm        *model.ViewModel
	keys      *keys.Registry
	thread    *views.MessageThread
	statusBar *views.StatusBar
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc

	// openMu serializes conversation switches.
	openMu  sync.Mutex
	mu      sync.Mutex
	active  *pipeline.Pipeline
	release func()
	unsub   func()
}

// NewApp creates the TUI application.
func NewApp(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		opts:      opts,
		app:       tview.NewApplication(),
		vm:        model.NewViewModel(),
		keys:      keys.NewRegistry(),
		thread:    views.NewMessageThread(opts.User.ID),
		statusBar: views.NewStatusBar(opts.Profile),
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	if opts.InitialState != "" {
		a.vm.SetConnState(opts.InitialState)
	}

	a.setupBindings()
	a.setupLayout()
	a.thread.SetOnSend(a.handleInput)
	return a
}

func (a *App) setupBindings() {
	a.keys.Add(&keys.Action{
		Name: "quit", Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit",
		Handler:     a.app.Stop,
	})
	a.keys.Add(&keys.Action{
		Name: "compose", Key: tcell.KeyRune, Rune: 'i',
		Description: "i:compose",
		Handler:     func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.keys.Add(&keys.Action{
		Name: "end", Key: tcell.KeyRune, Rune: 'G',
		Description: "G:latest",
		Handler:     func() { a.thread.Messages().ScrollToEnd() },
	})
	a.statusBar.SetHints(strings.Join(a.keys.Hints(), " ") + " /open /quit")
}

func (a *App) setupLayout() {
	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			return event
		}
		if a.keys.HandleEvent(event) {
			return nil
		}
		return event
	})
}

// handleInput runs on the UI goroutine when the composer submits text.
func (a *App) handleInput(text string) {
	cmd, isCmd, msg := ParseCommand(text)
	if isCmd {
		a.runCommand(cmd)
		return
	}
	a.mu.Lock()
	p := a.active
	a.mu.Unlock()
	if p == nil {
		a.vm.ShowError(errors.New("no conversation open; use /open channel:<id>"), flashDuration)
		return
	}
	if _, err := p.Send(msg); err != nil {
		a.vm.ShowError(err, flashDuration)
	}
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit", "q":
		a.app.Stop()
	case "open", "o":
		c, err := chat.ParseConversation(cmd.Args)
		if err != nil {
			a.vm.ShowError(err, flashDuration)
			return
		}
		go a.open(c)
	default:
		a.vm.ShowError(fmt.Errorf("unknown command %q", cmd.Name), flashDuration)
	}
}

// open switches the view to c. It blocks on history seeding, so it runs off
// the UI goroutine.
func (a *App) open(c chat.Conversation) {
	a.openMu.Lock()
	defer a.openMu.Unlock()

	p, release, err := a.opts.Registry.Open(a.ctx, c)
	if err != nil {
		a.vm.ShowError(err, flashDuration)
		return
	}
	a.closeActive()
	a.vm.SetConversation(c)
	a.app.QueueUpdate(func() { a.thread.SetConversation(c) })

	unsub := p.Subscribe(func(u pipeline.Update) {
		a.vm.ApplyUpdate(c, u)
	})

	a.mu.Lock()
	a.active, a.release, a.unsub = p, release, unsub
	a.mu.Unlock()
	a.logger.Info("conversation shown", zap.Stringer("conversation", c))
}

func (a *App) closeActive() {
	a.mu.Lock()
	release, unsub := a.release, a.unsub
	a.active, a.release, a.unsub = nil, nil, nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if release != nil {
		release()
	}
}

// watchBus follows connection state changes and server errors.
func (a *App) watchBus() {
	events, unsub := a.opts.Bus.Subscribe("conn.", 16)
	defer unsub()
	for {
		select {
		case evt := <-events:
			switch p := evt.Payload.(type) {
			case realtime.StateChange:
				a.vm.SetConnState(p.To)
			case realtime.ErrorPayload:
				a.vm.ShowError(fmt.Errorf("server: %s", p.Message), flashDuration)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// renderLoop redraws whenever the view model changes and once a second so
// flash messages expire.
func (a *App) renderLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
		v := a.vm.Snapshot()
		a.app.QueueUpdateDraw(func() {
			a.thread.Update(v.Entries, v.ScrollToEnd)
			a.statusBar.Update(v)
		})
	}
}

// Run starts the TUI and blocks until the user quits.
func (a *App) Run() error {
	if a.opts.Bus != nil {
		go a.watchBus()
	}
	go a.renderLoop()
	if a.opts.Conversation.Valid() {
		go a.open(a.opts.Conversation)
	} else {
		a.vm.ShowInfo("open a conversation with /open channel:<id>", 30*time.Second)
	}

	err := a.app.Run()
	a.cancel()
	a.closeActive()
	return err
}

// Stop shuts the TUI down from another goroutine.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
