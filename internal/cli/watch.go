package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sync"

	"github.com/giuliastro/opencode-remote/internal/config"
	"github.com/giuliastro/opencode-remote/internal/model"
	"github.com/giuliastro/opencode-remote/internal/notify"
	"github.com/giuliastro/opencode-remote/internal/profile"
	"github.com/giuliastro/opencode-remote/internal/store"
	"github.com/giuliastro/opencode-remote/internal/syncengine"
)

// runWatch runs the sync engine in the foreground until the context is
// cancelled, printing status transitions as they commit. With --select it
// follows one session and emits a completion signal when its work settles.
func (r *Runner) runWatch(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	selected := fs.String("select", "", "session to follow for completion signals")
	bell := fs.Bool("bell", cfg.Bell, "ring the terminal bell on completion")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}

	sinks := []notify.Sink{&notify.WriterSink{W: r.out, Bell: *bell}}
	logStore, err := openProfileStore(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "notification log disabled: %v\n", err)
	} else {
		defer logStore.Close() //nolint:errcheck
		logCtx := context.WithoutCancel(ctx)
		sinks = append(sinks, notify.SinkFunc(func(sig notify.Signal) {
			err := logStore.InsertNotification(logCtx, profile.Notification{
				ID:        sig.ID,
				SessionID: sig.SessionID,
				Title:     sig.Title,
				CreatedAt: sig.At,
			})
			if err != nil {
				_, _ = fmt.Fprintf(r.errOut, "notification log: %v\n", err)
			}
		}))
	}

	st := store.New(server)
	detector := notify.NewDetector(notify.Multi(sinks...))
	coordinator := syncengine.New(newClient(server, cfg.UnaryTimeout), st, detector, syncengine.Config{
		PollInterval:  cfg.PollInterval,
		StreamBackoff: cfg.StreamBackoff,
		MessageLimit:  cfg.MessageLimit,
	})

	printer := newWatchPrinter(r.out, r.errOut)
	unsubscribe := st.Subscribe(printer.observe)
	defer unsubscribe()

	coordinator.Start(ctx)
	if *selected != "" {
		coordinator.Select(*selected)
	}
	_, _ = fmt.Fprintf(r.errOut, "watching %s:%d (ctrl-c to stop)\n", server.Host, server.Port)
	<-ctx.Done()
	coordinator.Stop()
	return 0
}

// watchPrinter diffs consecutive snapshots and prints only what changed.
// Commits arrive from the engine's refresh goroutines, hence the lock.
type watchPrinter struct {
	out    io.Writer
	errOut io.Writer

	mu        sync.Mutex
	statuses  map[string]model.SessionStatus
	lastError string
}

func newWatchPrinter(out, errOut io.Writer) *watchPrinter {
	return &watchPrinter{out: out, errOut: errOut, statuses: make(map[string]model.SessionStatus)}
}

func (p *watchPrinter) observe(snap store.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.LastError != p.lastError {
		p.lastError = snap.LastError
		if snap.LastError != "" {
			_, _ = fmt.Fprintf(p.errOut, "sync error: %s\n", snap.LastError)
		}
	}
	next := make(map[string]model.SessionStatus, len(snap.Sessions))
	for _, s := range snap.Sessions {
		next[s.ID] = s.Status
		if prev, ok := p.statuses[s.ID]; !ok || prev != s.Status {
			_, _ = fmt.Fprintf(p.out, "%-7s %s  %s\n", s.Status, s.ID, sessionTitle(s))
		}
	}
	for id := range p.statuses {
		if _, ok := next[id]; !ok {
			_, _ = fmt.Fprintf(p.out, "%-7s %s\n", "gone", id)
		}
	}
	p.statuses = next
}
