package model

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/pipeline"
	"github.com/matheus3301/chatrelay/internal/realtime"
)

func entries(ids ...string) []pipeline.Entry {
	out := make([]pipeline.Entry, len(ids))
	for i, id := range ids {
		out[i] = pipeline.Entry{Message: chat.Message{ID: id}}
	}
	return out
}

func drained(vm *ViewModel) bool {
	select {
	case <-vm.RefreshCh():
		return true
	default:
		return false
	}
}

var general = chat.ChannelConversation("general")

func newModel() *ViewModel {
	vm := NewViewModel()
	vm.SetConversation(general)
	return vm
}

func TestApplyUpdateDropsStaleVersions(t *testing.T) {
	vm := newModel()

	if !vm.ApplyUpdate(general, pipeline.Update{Version: 2, Entries: entries("a", "b")}) {
		t.Fatal("first update should apply")
	}
	if vm.ApplyUpdate(general, pipeline.Update{Version: 1, Entries: entries("a")}) {
		t.Error("older update should be dropped")
	}
	if vm.ApplyUpdate(general, pipeline.Update{Version: 2, Entries: entries()}) {
		t.Error("same version should be dropped")
	}
	if got := vm.Snapshot().Entries; len(got) != 2 {
		t.Errorf("entries = %v, want 2", got)
	}
	if !vm.ApplyUpdate(general, pipeline.Update{Version: 3, Entries: entries("b")}) {
		t.Error("newer update should apply")
	}
}

func TestApplyUpdateAcceptsVersionZeroFirst(t *testing.T) {
	vm := newModel()
	if !vm.ApplyUpdate(general, pipeline.Update{Version: 0}) {
		t.Error("initial snapshot with version 0 should apply")
	}
}

func TestSetConversationResetsVersion(t *testing.T) {
	vm := newModel()
	vm.ApplyUpdate(general, pipeline.Update{Version: 9, Entries: entries("a")})

	t1 := chat.ThreadConversation("t1")
	vm.SetConversation(t1)
	v := vm.Snapshot()
	if v.Conversation != t1 || len(v.Entries) != 0 {
		t.Fatalf("snapshot = %+v", v)
	}
	if vm.ApplyUpdate(general, pipeline.Update{Version: 10, Entries: entries("old")}) {
		t.Error("update from the previous conversation should be dropped")
	}
	if !vm.ApplyUpdate(t1, pipeline.Update{Version: 1, Entries: entries("x")}) {
		t.Error("new conversation should start a fresh version sequence")
	}
}

func TestSnapshotConsumesScroll(t *testing.T) {
	vm := newModel()
	vm.ApplyUpdate(general, pipeline.Update{Version: 1, ScrollToEnd: true})
	if !vm.Snapshot().ScrollToEnd {
		t.Error("first snapshot should scroll")
	}
	if vm.Snapshot().ScrollToEnd {
		t.Error("scroll request should be consumed")
	}
}

func TestSendErrorBecomesFlash(t *testing.T) {
	vm := newModel()
	err := &pipeline.SendError{Content: "hi", Attempts: 3, Err: errors.New("503")}
	vm.ApplyUpdate(general, pipeline.Update{Version: 1, Err: err})

	v := vm.Snapshot()
	if !v.HasFlash || v.Flash.Level != FlashErr {
		t.Fatalf("flash = %+v, %v", v.Flash, v.HasFlash)
	}
	if v.Flash.Text != `failed to send "hi"` {
		t.Errorf("flash text = %q", v.Flash.Text)
	}
}

func TestRefreshSignalCoalesces(t *testing.T) {
	vm := NewViewModel()
	vm.SetConnState(realtime.Connecting)
	vm.SetConnState(realtime.Open)
	if !drained(vm) {
		t.Fatal("expected a refresh signal")
	}
	if drained(vm) {
		t.Error("signals should coalesce into one")
	}
	if vm.Snapshot().ConnState != realtime.Open {
		t.Error("conn state not recorded")
	}
}

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	f := &Flash{now: func() time.Time { return now }}

	if _, ok := f.Get(); ok {
		t.Error("empty flash should not be shown")
	}
	f.Set("saved", time.Second)
	if m, ok := f.Get(); !ok || m.Text != "saved" || m.Level != FlashInfo {
		t.Errorf("got %+v, %v", m, ok)
	}
	now = now.Add(2 * time.Second)
	if _, ok := f.Get(); ok {
		t.Error("flash should expire")
	}
}
