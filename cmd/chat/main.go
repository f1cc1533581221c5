package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatrelay/internal/app"
	"github.com/matheus3301/chatrelay/internal/bus"
	"github.com/matheus3301/chatrelay/internal/chat"
	"github.com/matheus3301/chatrelay/internal/config"
	"github.com/matheus3301/chatrelay/internal/lock"
	"github.com/matheus3301/chatrelay/internal/pipeline"
	"github.com/matheus3301/chatrelay/internal/profile"
	"github.com/matheus3301/chatrelay/internal/realtime"
	"github.com/matheus3301/chatrelay/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	convFlag := flag.String("conversation", "", "conversation to open: channel:<id> or thread:<id>")
	headless := flag.Bool("headless", false, "run without the terminal UI")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var conv chat.Conversation
	if *convFlag != "" {
		c, err := chat.ParseConversation(*convFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		conv = c
	}

	run := fx.Invoke(runTUI(profileName, conv))
	if *headless {
		run = fx.Invoke(runHeadless(conv))
	}

	fxApp := fx.New(
		app.Module(app.Params{Profile: profileName, Console: *headless}),
		app.WithLogger(),
		run,
	)
	if err := fxApp.Err(); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: profile %q is already in use (pid %d)\n", profileName, held.Holder.PID)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
	fxApp.Run()
}

type runParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Registry   *pipeline.Registry
	Manager    *realtime.Manager
	Bus        *bus.Bus
	Config     *config.Config
	Logger     *zap.Logger
}

// runTUI starts the terminal UI once the core is up and shuts the app down
// when the user quits.
func runTUI(profileName string, conv chat.Conversation) func(runParams) {
	return func(p runParams) {
		var ui *tui.App
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				ui = tui.NewApp(tui.Options{
					Registry: p.Registry,
					Bus:      p.Bus,
					Profile:  profileName,
					User: chat.Sender{
						ID:    p.Config.User.ID,
						Name:  p.Config.User.Name,
						Image: p.Config.User.Image,
					},
					Conversation: conv,
					InitialState: p.Manager.State(),
					Logger:       p.Logger.Named("tui"),
				})
				go func() {
					if err := ui.Run(); err != nil {
						p.Logger.Error("tui exited with error", zap.Error(err))
					}
					_ = p.Shutdowner.Shutdown()
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				ui.Stop()
				return nil
			},
		})
	}
}

// runHeadless keeps conv joined and logs what arrives, for servers and
// debugging.
func runHeadless(conv chat.Conversation) func(runParams) {
	return func(p runParams) {
		var (
			release func()
			unsub   func()
		)
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if !conv.Valid() {
					p.Logger.Info("headless mode without a conversation; caching pushes only")
					return nil
				}
				pl, rel, err := p.Registry.Open(ctx, conv)
				if err != nil {
					return err
				}
				release = rel
				unsub = pl.Subscribe(func(u pipeline.Update) {
					p.Logger.Debug("conversation updated",
						zap.Stringer("conversation", conv),
						zap.Uint64("version", u.Version),
						zap.Int("entries", len(u.Entries)))
				})
				return nil
			},
			OnStop: func(context.Context) error {
				if unsub != nil {
					unsub()
				}
				if release != nil {
					release()
				}
				return nil
			},
		})
	}
}
