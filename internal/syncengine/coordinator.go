package syncengine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giuliastro/opencode-remote/internal/diffstat"
	"github.com/giuliastro/opencode-remote/internal/model"
	"github.com/giuliastro/opencode-remote/internal/notify"
	"github.com/giuliastro/opencode-remote/internal/opencode"
	"github.com/giuliastro/opencode-remote/internal/security"
	"github.com/giuliastro/opencode-remote/internal/store"
)

const (
	defaultPollInterval = 3500 * time.Millisecond
	defaultMessageLimit = 100
)

type Config struct {
	PollInterval  time.Duration
	StreamBackoff time.Duration
	MessageLimit  int
}

// scope serializes refreshes of one resource: at most one in flight at any
// time. A trigger arriving while one runs is coalesced into a single
// pending slot, never queued.
type scope struct {
	mu      sync.Mutex
	running bool
	pending bool
}

func (s *scope) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.pending = true
		return false
	}
	s.running = true
	return true
}

// finish returns the scope to idle and reports whether coalesced triggers
// need one catch-up refresh. One, regardless of how many were dropped.
func (s *scope) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if !s.pending {
		return false
	}
	s.pending = false
	return true
}

// Coordinator owns the poll ticker and the event stream subscription and
// decides when the session list and the selected session's detail get
// refreshed. All server state flows through it into the store.
type Coordinator struct {
	client   *opencode.Client
	store    *store.Store
	detector *notify.Detector
	cfg      Config

	list   scope
	detail scope

	mu         sync.Mutex
	runCtx     context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	generation atomic.Int64
}

func New(client *opencode.Client, st *store.Store, detector *notify.Detector, cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = defaultMessageLimit
	}
	return &Coordinator{
		client:   client,
		store:    st,
		detector: detector,
		cfg:      cfg,
	}
}

func (c *Coordinator) Store() *store.Store {
	return c.store
}

// Start launches the poll and stream loops. Calling it again while running
// is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	c.cancel = cancel
	gen := c.generation.Load()
	c.wg.Add(2)
	go c.pollLoop(runCtx, gen)
	go c.streamLoop(runCtx, gen)
}

// Stop cancels both loops and waits for in-flight work to unwind. The
// generation bump makes any result still in flight fail its commit check,
// so a late response cannot resurrect torn-down state. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.runCtx = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	c.generation.Add(1)
	cancel()
	c.wg.Wait()
}

// Kick schedules a refresh of both scopes, coalescing into anything already
// in flight. No-op when the coordinator is stopped.
func (c *Coordinator) Kick() {
	if ctx, gen, ok := c.active(); ok {
		c.triggerAll(ctx, gen)
	}
}

// Select swaps the selected session, resets the completion tracker, and
// pulls fresh detail for the new selection.
func (c *Coordinator) Select(sessionID string) {
	c.store.Select(sessionID)
	c.detector.Reset(sessionID)
	if ctx, gen, ok := c.active(); ok {
		c.triggerDetail(ctx, gen)
	}
}

func (c *Coordinator) CreateSession(ctx context.Context, title string) (model.Session, error) {
	session, err := c.client.CreateSession(ctx, title)
	if err != nil {
		return model.Session{}, err
	}
	c.Kick()
	return session, nil
}

func (c *Coordinator) RenameSession(ctx context.Context, sessionID, title string) (model.Session, error) {
	session, err := c.client.RenameSession(ctx, sessionID, title)
	if err != nil {
		return model.Session{}, err
	}
	c.Kick()
	return session, nil
}

func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	ok, err := c.client.DeleteSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if c.store.Snapshot().SelectedID == sessionID {
		c.Select("")
	}
	c.Kick()
	return ok, nil
}

func (c *Coordinator) SendPrompt(ctx context.Context, sessionID, text string) (model.MessageEnvelope, error) {
	envelope, err := c.client.SendPrompt(ctx, sessionID, text)
	if err != nil {
		return model.MessageEnvelope{}, err
	}
	c.Kick()
	return envelope, nil
}

func (c *Coordinator) SendPromptAsync(ctx context.Context, sessionID, text string) error {
	if err := c.client.SendPromptAsync(ctx, sessionID, text); err != nil {
		return err
	}
	c.Kick()
	return nil
}

func (c *Coordinator) SendCommand(ctx context.Context, sessionID, command, arguments string) error {
	if err := c.client.SendCommand(ctx, sessionID, command, arguments); err != nil {
		return err
	}
	c.Kick()
	return nil
}

func (c *Coordinator) Abort(ctx context.Context, sessionID string) (bool, error) {
	ok, err := c.client.Abort(ctx, sessionID)
	if err != nil {
		return false, err
	}
	c.Kick()
	return ok, nil
}

// TestConnection probes server health. Unlike the mutating actions it
// schedules no refresh; callers decide what an unhealthy report means.
func (c *Coordinator) TestConnection(ctx context.Context) (model.Health, error) {
	return c.client.Health(ctx)
}

func (c *Coordinator) active() (context.Context, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx == nil || c.runCtx.Err() != nil {
		return nil, 0, false
	}
	return c.runCtx, c.generation.Load(), true
}

func (c *Coordinator) current(gen int64) bool {
	return c.generation.Load() == gen
}

func (c *Coordinator) pollLoop(ctx context.Context, gen int64) {
	defer c.wg.Done()
	c.triggerAll(ctx, gen)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.triggerAll(ctx, gen)
		}
	}
}

func (c *Coordinator) streamLoop(ctx context.Context, gen int64) {
	defer c.wg.Done()
	_ = c.client.StreamEvents(ctx, opencode.StreamOptions{
		Backoff: c.cfg.StreamBackoff,
		OnEvent: func(ev model.Event) {
			if triggersRefresh(ev.Type) {
				c.triggerAll(ctx, gen)
			}
		},
		OnError: func(err error) {
			c.reportError(gen, err)
		},
	})
}

// triggersRefresh matches session and message lifecycle events plus todo
// updates; every other event type is ignored.
func triggersRefresh(eventType string) bool {
	return strings.HasPrefix(eventType, "session.") ||
		strings.HasPrefix(eventType, "message.") ||
		eventType == "todo.updated"
}

func (c *Coordinator) triggerAll(ctx context.Context, gen int64) {
	c.triggerList(ctx, gen)
	c.triggerDetail(ctx, gen)
}

func (c *Coordinator) triggerList(ctx context.Context, gen int64) {
	if ctx.Err() != nil {
		return
	}
	if !c.list.begin() {
		return
	}
	c.wg.Add(1)
	go c.refreshSessions(ctx, gen)
}

func (c *Coordinator) triggerDetail(ctx context.Context, gen int64) {
	if ctx.Err() != nil {
		return
	}
	if c.store.Snapshot().SelectedID == "" {
		return
	}
	if !c.detail.begin() {
		return
	}
	c.wg.Add(1)
	go c.refreshDetail(ctx, gen)
}

// refreshSessions fetches the session list and the status map concurrently,
// joins them, and commits the sorted result.
func (c *Coordinator) refreshSessions(ctx context.Context, gen int64) {
	defer c.wg.Done()
	if c.current(gen) {
		c.store.SetRefreshingList(true)
	}

	var (
		fetch    sync.WaitGroup
		sessions []model.Session
		statuses map[string]model.SessionStatus
		sessErr  error
		statErr  error
	)
	fetch.Add(2)
	go func() {
		defer fetch.Done()
		sessions, sessErr = c.client.ListSessions(ctx)
	}()
	go func() {
		defer fetch.Done()
		statuses, statErr = c.client.ListStatuses(ctx)
	}()
	fetch.Wait()

	if err := firstErr(sessErr, statErr); err != nil {
		c.reportError(gen, err)
	} else {
		joined := model.JoinStatus(sessions, statuses)
		model.SortSessions(joined)
		if c.current(gen) {
			c.store.SetSessions(joined)
			if selected, ok := c.store.Snapshot().SelectedSession(); ok {
				c.detector.Observe(selected)
			}
		}
	}

	if c.current(gen) {
		c.store.SetRefreshingList(false)
	}
	if c.list.finish() {
		c.triggerList(ctx, gen)
	}
}

// refreshDetail fetches transcript, todos, and diff for the selected
// session concurrently. A result for a session that is no longer selected
// is dropped at commit.
func (c *Coordinator) refreshDetail(ctx context.Context, gen int64) {
	defer c.wg.Done()
	sessionID := c.store.Snapshot().SelectedID
	if sessionID == "" {
		c.detail.finish()
		return
	}
	if c.current(gen) {
		c.store.SetRefreshingDetail(true)
	}

	var (
		fetch    sync.WaitGroup
		messages []model.MessageEnvelope
		todos    []model.TodoItem
		files    []model.DiffFile
		msgErr   error
		todoErr  error
		diffErr  error
	)
	fetch.Add(3)
	go func() {
		defer fetch.Done()
		messages, msgErr = c.client.Messages(ctx, sessionID, c.cfg.MessageLimit)
	}()
	go func() {
		defer fetch.Done()
		todos, todoErr = c.client.Todo(ctx, sessionID)
	}()
	go func() {
		defer fetch.Done()
		files, diffErr = c.client.Diff(ctx, sessionID)
	}()
	fetch.Wait()

	if err := firstErr(msgErr, todoErr, diffErr); err != nil {
		c.reportError(gen, err)
	} else {
		visible := make([]model.MessageEnvelope, 0, len(messages))
		for _, env := range messages {
			if env.HasText() {
				visible = append(visible, env)
			}
		}
		files = diffstat.Fill(files)
		detail := store.Detail{
			SessionID: sessionID,
			Messages:  visible,
			Todos:     todos,
			Files:     files,
			Diff:      diffstat.Summarize(files),
		}
		if c.current(gen) {
			c.store.SetDetail(detail)
		}
	}

	if c.current(gen) {
		c.store.SetRefreshingDetail(false)
	}
	if c.detail.finish() {
		c.triggerDetail(ctx, gen)
	}
}

// reportError lands a background failure in the last-error slot with
// credentials scrubbed. Background loops never stop on errors; user-action
// errors return to the caller instead of passing through here.
func (c *Coordinator) reportError(gen int64, err error) {
	if err == nil || !c.current(gen) {
		return
	}
	c.store.SetLastError(security.Redact(err.Error()))
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
