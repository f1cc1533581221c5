package app

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/config"
	"github.com/matheus3301/chatrelay/internal/devserver"
	"github.com/matheus3301/chatrelay/internal/health"
	"github.com/matheus3301/chatrelay/internal/lock"
	"github.com/matheus3301/chatrelay/internal/pipeline"
	"github.com/matheus3301/chatrelay/internal/profile"
	"github.com/matheus3301/chatrelay/internal/realtime"
	"github.com/matheus3301/chatrelay/internal/store"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// setupProfile points CHATRELAY_HOME at a short temp dir, writes a config for
// baseURL and a token file, and returns the config path.
func setupProfile(t *testing.T, name, baseURL string) string {
	t.Helper()
	// Short path for the unix socket length limit.
	home, err := os.MkdirTemp("/tmp", "chatrelay-app-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv("CHATRELAY_HOME", home)

	if err := profile.EnsureDir(name); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(profile.TokenPath(name), []byte("alice-token\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Server.BaseURL = baseURL
	cfg.User = config.UserConfig{ID: "u-alice", Name: "Alice"}
	cfg.Realtime.ReconnectInterval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Pipeline.BackoffBase = config.Duration{Duration: 10 * time.Millisecond}
	cfg.Pipeline.DrainDelay = config.Duration{}
	path := filepath.Join(home, "config.toml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppLifecycle(t *testing.T) {
	srv := devserver.New(nil)
	srv.AddUser("alice-token", chat.Sender{ID: "u-alice", Name: "Alice"})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	const name = "test"
	cfgPath := setupProfile(t, name, ts.URL)

	var (
		registry *pipeline.Registry
		manager  *realtime.Manager
		db       *store.DB
	)
	app := fxtest.New(t,
		Module(Params{Profile: name, ConfigPath: cfgPath}),
		fx.Populate(&registry, &manager, &db),
	)
	app.RequireStart()

	waitUntil(t, "connection open", func() bool { return manager.State() == realtime.Open })

	// The health socket reflects the connection.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	report, err := health.Probe(ctx, profile.SocketPath(name))
	cancel()
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !report.Connected() {
		t.Errorf("health reports disconnected while manager is %s", manager.State())
	}

	// A second instance of the same profile is refused.
	if _, err := lock.Acquire(profile.Dir(name)); err == nil {
		t.Error("expected profile lock to be held")
	}

	conv := chat.ChannelConversation("general")
	p, release, err := registry.Open(context.Background(), conv)
	if err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "join", func() bool { return srv.Members(conv) == 1 })

	if _, err := p.Send("hello from the app"); err != nil {
		t.Fatal(err)
	}

	// Confirmed messages reach the local cache through the sync engine.
	waitUntil(t, "cached message", func() bool {
		msgs, err := db.ListMessages(conv, time.Time{}, 10)
		return err == nil && len(msgs) == 1 && msgs[0].Content == "hello from the app"
	})
	release()
	waitUntil(t, "leave", func() bool { return srv.Members(conv) == 0 })

	app.RequireStop()

	if _, err := os.Stat(profile.SocketPath(name)); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	l, err := lock.Acquire(profile.Dir(name))
	if err != nil {
		t.Fatalf("lock not released on stop: %v", err)
	}
	_ = l.Release()
}

// TestSendFailureIsRecorded checks the failure path end to end: the server
// rejects every create, the pipeline gives up, and the failure lands in the
// cache for chatctl.
func TestSendFailureIsRecorded(t *testing.T) {
	srv := devserver.New(nil)
	srv.AddUser("alice-token", chat.Sender{ID: "u-alice", Name: "Alice"})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	const name = "failing"
	cfgPath := setupProfile(t, name, ts.URL)

	var (
		registry *pipeline.Registry
		db       *store.DB
	)
	app := fxtest.New(t,
		Module(Params{Profile: name, ConfigPath: cfgPath}),
		fx.Populate(&registry, &db),
	)
	app.RequireStart()
	defer app.RequireStop()

	srv.FailCreates(3)
	conv := chat.ThreadConversation("t1")
	p, release, err := registry.Open(context.Background(), conv)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if _, err := p.Send("never lands"); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "recorded failure", func() bool {
		failures, err := db.ListFailures(10)
		return err == nil && len(failures) == 1
	})
	failures, _ := db.ListFailures(10)
	if failures[0].Content != "never lands" || failures[0].Attempts != 3 {
		t.Errorf("failure = %+v", failures[0])
	}
	if failures[0].Conversation != conv {
		t.Errorf("conversation = %v, want %v", failures[0].Conversation, conv)
	}
}

func TestCookieCredentialsWithoutTokenFile(t *testing.T) {
	srv := devserver.New(nil)
	srv.AddUser("bob-token", chat.Sender{ID: "u-bob", Name: "Bob"})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	const name = "cookie"
	cfgPath := setupProfile(t, name, ts.URL)
	if err := os.Remove(profile.TokenPath(name)); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Server.Cookie = devserver.SessionCookie + "=bob-token"
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}

	var manager *realtime.Manager
	app := fxtest.New(t,
		Module(Params{Profile: name, ConfigPath: cfgPath}),
		fx.Populate(&manager),
	)
	app.RequireStart()
	defer app.RequireStop()

	waitUntil(t, "connection open", func() bool { return manager.State() == realtime.Open })
}
