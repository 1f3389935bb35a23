package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatpilot/chatpilot/internal/autopilot"
	"github.com/chatpilot/chatpilot/internal/bus"
	"github.com/chatpilot/chatpilot/internal/config"
	"github.com/chatpilot/chatpilot/internal/export"
	"github.com/chatpilot/chatpilot/internal/messenger"
	"github.com/chatpilot/chatpilot/internal/pipeline"
	"github.com/chatpilot/chatpilot/internal/provider"
	"github.com/chatpilot/chatpilot/internal/scheduler"
	"github.com/chatpilot/chatpilot/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the autopilot daemon (engine, scheduler, transport)",
	RunE:  runDaemon,
}

// runtime is the assembled application: store, bus, transport, pipeline,
// engine and scheduler, wired from one loaded config.
type runtime struct {
	cfg       *config.Config
	store     *store.Store
	bus       *bus.Bus
	messenger messenger.Messenger
	engine    *autopilot.Engine
	scheduler *scheduler.Scheduler
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	st, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.SeedDefaultAgent(); err != nil {
		st.Close()
		return nil, fmt.Errorf("seed default agent: %w", err)
	}

	b := bus.New()

	msgr, err := newMessenger(cfg, b, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	prov := provider.NewOpenAIProvider(
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.APIBase,
		cfg.Model.Name,
		cfg.Model.FallbackModel,
	)

	disp := pipeline.New(prov, msgr, st, cfg.Model, cfg.Autopilot.HistoryLimit)
	eng := autopilot.New(st, b, disp, msgr, cfg.Autopilot)
	sched := scheduler.New(cfg.Scheduler, st, b, msgr)

	return &runtime{
		cfg:       cfg,
		store:     st,
		bus:       b,
		messenger: msgr,
		engine:    eng,
		scheduler: sched,
	}, nil
}

func (r *runtime) close() {
	r.store.Close()
}

func newMessenger(cfg *config.Config, b *bus.Bus, st *store.Store) (messenger.Messenger, error) {
	switch cfg.Messenger.Active {
	case "bridge":
		return messenger.NewBridgeMessenger(cfg.Messenger.Bridge, b), nil
	case "slack":
		return messenger.NewSlackMessenger(cfg.Messenger.Slack), nil
	case "whatsapp":
		return messenger.NewWhatsAppMessenger(cfg.Messenger.WhatsApp, b, st), nil
	}
	return nil, fmt.Errorf("unknown messenger transport %q", cfg.Messenger.Active)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	printHeader("🚀 chatpilot Daemon")

	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Transport: the bridge long-polls, WhatsApp holds a live connection,
	// Slack is request/response and needs no background loop.
	switch m := rt.messenger.(type) {
	case *messenger.BridgeMessenger:
		go func() {
			if err := m.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Bridge transport stopped", "error", err)
			}
		}()
	case *messenger.WhatsAppMessenger:
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("start whatsapp: %w", err)
		}
		defer m.Stop()
	}

	go rt.engine.Run(ctx)
	go rt.scheduler.Run(ctx)

	if rt.cfg.Export.Kafka.Enabled {
		mirror := export.NewKafkaMirror(rt.cfg.Export.Kafka, rt.bus)
		go mirror.Run(ctx)
	}

	// Periodic activity retention pass; the engine also trims per append, so
	// this only cleans up chats the engine has not touched recently.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rt.store.TrimAllActivity(rt.cfg.Autopilot.ActivityRetention); err != nil {
					slog.Warn("Activity retention pass failed", "error", err)
				}
			}
		}
	}()

	fmt.Printf("Daemon running (transport %s, tick %s). Ctrl-C to stop.\n",
		rt.cfg.Messenger.Active, rt.cfg.Scheduler.TickInterval)

	<-sigChan
	fmt.Println("\nShutting down...")
	cancel()
	return nil
}
