package model

import (
	"sync"
	"time"

	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/pipeline"
	"github.com/matheus3301/chatrelay/internal/realtime"
)

const sendErrorFlash = 10 * time.Second

// View is a consistent snapshot for one render pass.
type View struct {
	Conversation chat.Conversation
	Entries      []pipeline.Entry
	ConnState    realtime.State
	ScrollToEnd  bool
	Flash        FlashMessage
	HasFlash     bool
}

// ViewModel caches pipeline and connection state and signals UI refreshes.
// Pipeline updates may arrive out of order across goroutines; older versions
// are dropped.
type ViewModel struct {
	mu sync.RWMutex

	conv      chat.Conversation
	version   uint64
	seen      bool
	entries   []pipeline.Entry
	scroll    bool
	connState realtime.State

	Flash Flash

	refreshCh chan struct{}
}

// NewViewModel creates an empty view model.
func NewViewModel() *ViewModel {
	return &ViewModel{
		connState: realtime.Idle,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// SetConversation switches the model to c and forgets the previous
// conversation's entries.
func (vm *ViewModel) SetConversation(c chat.Conversation) {
	vm.mu.Lock()
	vm.conv = c
	vm.version = 0
	vm.seen = false
	vm.entries = nil
	vm.scroll = true
	vm.mu.Unlock()
	vm.signalRefresh()
}

// ApplyUpdate stores u from the pipeline of c unless c is no longer shown or
// a newer update was already applied. A send error is surfaced as an error
// flash.
func (vm *ViewModel) ApplyUpdate(c chat.Conversation, u pipeline.Update) bool {
	vm.mu.Lock()
	if c != vm.conv || (vm.seen && u.Version <= vm.version) {
		vm.mu.Unlock()
		return false
	}
	vm.seen = true
	vm.version = u.Version
	vm.entries = u.Entries
	if u.ScrollToEnd {
		vm.scroll = true
	}
	vm.mu.Unlock()

	if u.Err != nil {
		vm.Flash.Err(u.Err, sendErrorFlash)
	}
	vm.signalRefresh()
	return true
}

// SetConnState records the realtime connection state.
func (vm *ViewModel) SetConnState(s realtime.State) {
	vm.mu.Lock()
	vm.connState = s
	vm.mu.Unlock()
	vm.signalRefresh()
}

// ShowError flashes err and requests a redraw.
func (vm *ViewModel) ShowError(err error, d time.Duration) {
	vm.Flash.Err(err, d)
	vm.signalRefresh()
}

// ShowInfo flashes msg and requests a redraw.
func (vm *ViewModel) ShowInfo(msg string, d time.Duration) {
	vm.Flash.Set(msg, d)
	vm.signalRefresh()
}

// Snapshot returns the state to render and consumes the scroll request.
func (vm *ViewModel) Snapshot() View {
	vm.mu.Lock()
	v := View{
		Conversation: vm.conv,
		Entries:      vm.entries,
		ConnState:    vm.connState,
		ScrollToEnd:  vm.scroll,
	}
	vm.scroll = false
	vm.mu.Unlock()

	v.Flash, v.HasFlash = vm.Flash.Get()
	return v
}
