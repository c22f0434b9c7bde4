package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/giuliastro/opencode-remote/internal/config"
	"github.com/giuliastro/opencode-remote/internal/diffstat"
	"github.com/giuliastro/opencode-remote/internal/doctor"
	"github.com/giuliastro/opencode-remote/internal/model"
	"github.com/giuliastro/opencode-remote/internal/opencode"
	"github.com/giuliastro/opencode-remote/internal/profile"
	"github.com/giuliastro/opencode-remote/internal/security"
)

type Runner struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

const maxSendStdinBytes int64 = 1 << 20

func NewRunner(out, errOut io.Writer) *Runner {
	return NewRunnerWithInput(os.Stdin, out, errOut)
}

func NewRunnerWithInput(in io.Reader, out, errOut io.Writer) *Runner {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{in: in, out: out, errOut: errOut}
}

// globalOptions are connection flags accepted anywhere on the command line.
// --server plus --user/--password bypasses the profile store entirely.
type globalOptions struct {
	profile   string
	server    string
	user      string
	password  string
	directory string
}

func parseGlobalArgs(args []string) (globalOptions, []string, error) {
	var opts globalOptions
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		var dst *string
		switch args[i] {
		case "--profile":
			dst = &opts.profile
		case "--server":
			dst = &opts.server
		case "--user":
			dst = &opts.user
		case "--password":
			dst = &opts.password
		case "--directory":
			dst = &opts.directory
		default:
			rest = append(rest, args[i])
			continue
		}
		if i+1 >= len(args) {
			return globalOptions{}, nil, fmt.Errorf("%s requires value", args[i])
		}
		*dst = args[i+1]
		i++
	}
	return opts, rest, nil
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	opts, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		return r.handleErr(err)
	}
	switch rest[0] {
	case "login":
		return r.runLogin(ctx, cfg, opts, rest[1:])
	case "profile":
		return r.runProfile(ctx, cfg, rest[1:])
	case "health":
		return r.runHealth(ctx, cfg, opts, rest[1:])
	case "list":
		return r.runList(ctx, cfg, opts, rest[1:])
	case "create":
		return r.runCreate(ctx, cfg, opts, rest[1:])
	case "rename":
		return r.runRename(ctx, cfg, opts, rest[1:])
	case "delete":
		return r.runDelete(ctx, cfg, opts, rest[1:])
	case "messages":
		return r.runMessages(ctx, cfg, opts, rest[1:])
	case "todo":
		return r.runTodo(ctx, cfg, opts, rest[1:])
	case "diff":
		return r.runDiff(ctx, cfg, opts, rest[1:])
	case "send":
		return r.runSend(ctx, cfg, opts, rest[1:])
	case "command":
		return r.runCommand(ctx, cfg, opts, rest[1:])
	case "abort":
		return r.runAbort(ctx, cfg, opts, rest[1:])
	case "watch":
		return r.runWatch(ctx, cfg, opts, rest[1:])
	case "notifications":
		return r.runNotifications(ctx, cfg, rest[1:])
	case "doctor":
		return r.runDoctor(ctx, cfg, opts, rest[1:])
	case "config":
		return r.runConfig(cfg, rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) runLogin(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "default", "profile name")
	makeDefault := fs.Bool("default", false, "mark this profile as the default")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if opts.server == "" || opts.user == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote --server <host:port> --user <name> [--password <pw>] login [--name <profile>] [--default]")
		return 2
	}
	server, err := parseServerAddr(opts.server)
	if err != nil {
		return r.handleErr(err)
	}
	server.Username = opts.user
	server.Password = opts.password
	server.Directory = opts.directory
	if server.Password == "" {
		password, err := r.promptPassword()
		if err != nil {
			return r.handleErr(err)
		}
		server.Password = password
	}
	if !server.Valid() {
		return r.handleErr(fmt.Errorf("login needs a host:port, a user, and a password"))
	}

	health, err := newClient(server, cfg.ConnectTimeout).Health(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if !health.Healthy {
		return r.handleErr(fmt.Errorf("server %s reports unhealthy", opts.server))
	}

	st, err := openProfileStore(ctx, cfg)
	if err != nil {
		return r.handleErr(err)
	}
	defer st.Close() //nolint:errcheck
	prof := profile.Profile{
		ID:        uuid.NewString(),
		Name:      *name,
		Host:      server.Host,
		Port:      server.Port,
		Username:  server.Username,
		Password:  server.Password,
		Directory: server.Directory,
		IsDefault: *makeDefault,
	}
	if existing, err := st.GetByName(ctx, *name); err == nil {
		prof.ID = existing.ID
		prof.IsDefault = prof.IsDefault || existing.IsDefault
	}
	if err := st.Upsert(ctx, prof); err != nil {
		return r.handleErr(err)
	}
	version := health.Version
	if version == "" {
		version = "unknown"
	}
	_, _ = fmt.Fprintf(r.out, "logged in to %s as %s (server version %s)\n", opts.server, server.Username, version)
	return 0
}

func (r *Runner) runProfile(ctx context.Context, cfg config.Config, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote profile <list|use|rm>")
		return 2
	}
	st, err := openProfileStore(ctx, cfg)
	if err != nil {
		return r.handleErr(err)
	}
	defer st.Close() //nolint:errcheck
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("profile list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		jsonOut := fs.Bool("json", false, "output JSON")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		profiles, err := st.List(ctx)
		if err != nil {
			return r.handleErr(err)
		}
		if *jsonOut {
			views := make([]profileView, 0, len(profiles))
			for _, p := range profiles {
				views = append(views, newProfileView(p))
			}
			return r.printJSON(views)
		}
		if len(profiles) == 0 {
			_, _ = fmt.Fprintln(r.out, "no profiles (run \"ocremote login\")")
			return 0
		}
		for _, p := range profiles {
			marker := " "
			if p.IsDefault {
				marker = "*"
			}
			_, _ = fmt.Fprintf(r.out, "%s %s\t%s@%s:%d\t%s\n",
				marker, p.Name, p.Username, p.Host, p.Port, security.MaskPassword(p.Password))
		}
		return 0
	case "use":
		if len(args) != 2 {
			_, _ = fmt.Fprintln(r.errOut, "usage: ocremote profile use <name>")
			return 2
		}
		if err := st.SetDefault(ctx, args[1]); err != nil {
			return r.handleErr(err)
		}
		_, _ = fmt.Fprintf(r.out, "default profile is now %s\n", args[1])
		return 0
	case "rm":
		if len(args) != 2 {
			_, _ = fmt.Fprintln(r.errOut, "usage: ocremote profile rm <name>")
			return 2
		}
		if err := st.Delete(ctx, args[1]); err != nil {
			return r.handleErr(err)
		}
		_, _ = fmt.Fprintf(r.out, "removed profile %s\n", args[1])
		return 0
	default:
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote profile <list|use|rm>")
		return 2
	}
}

// profileView is the JSON shape for profile list; the stored password never
// leaves the database unmasked.
type profileView struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Directory string `json:"directory,omitempty"`
	Default   bool   `json:"default"`
}

func newProfileView(p profile.Profile) profileView {
	return profileView{
		Name:      p.Name,
		Host:      p.Host,
		Port:      p.Port,
		Username:  p.Username,
		Password:  security.MaskPassword(p.Password),
		Directory: p.Directory,
		Default:   p.IsDefault,
	}
}

func (r *Runner) runHealth(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	health, err := newClient(server, cfg.ConnectTimeout).Health(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		if code := r.printJSON(health); code != 0 {
			return code
		}
	} else if health.Version != "" {
		_, _ = fmt.Fprintf(r.out, "%s (version %s)\n", healthLabel(health.Healthy), health.Version)
	} else {
		_, _ = fmt.Fprintln(r.out, healthLabel(health.Healthy))
	}
	if !health.Healthy {
		return 1
	}
	return 0
}

func healthLabel(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func (r *Runner) runList(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	client := newClient(server, cfg.UnaryTimeout)
	sessions, err := client.ListSessions(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	statuses, err := client.ListStatuses(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	sessions = model.JoinStatus(sessions, statuses)
	model.SortSessions(sessions)
	if *jsonOut {
		return r.printJSON(sessions)
	}
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(r.out, "no sessions")
		return 0
	}
	for _, s := range sessions {
		_, _ = fmt.Fprintf(r.out, "%s\t%-7s\t%s\t%s\n",
			s.ID, s.Status, s.Updated.Local().Format("2006-01-02 15:04"), sessionTitle(s))
	}
	return 0
}

func (r *Runner) runCreate(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	title := fs.String("title", "", "session title")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	session, err := newClient(server, cfg.UnaryTimeout).CreateSession(ctx, *title)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(session)
	}
	_, _ = fmt.Fprintf(r.out, "created session %s\n", session.ID)
	return 0
}

func (r *Runner) runRename(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote rename <session> <title>")
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	title := strings.Join(args[1:], " ")
	session, err := newClient(server, cfg.UnaryTimeout).RenameSession(ctx, args[0], title)
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "renamed %s to %q\n", session.ID, session.Title)
	return 0
}

func (r *Runner) runDelete(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote delete <session>")
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	ok, err := newClient(server, cfg.UnaryTimeout).DeleteSession(ctx, args[0])
	if err != nil {
		return r.handleErr(err)
	}
	if !ok {
		return r.handleErr(fmt.Errorf("session %s was not deleted", args[0]))
	}
	_, _ = fmt.Fprintf(r.out, "deleted %s\n", args[0])
	return 0
}

func (r *Runner) runMessages(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("messages", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 0, "maximum messages to fetch")
	jsonOut := fs.Bool("json", false, "output JSON")
	sessionID, rest := peelSessionID(args)
	if err := fs.Parse(rest); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if sessionID == "" && fs.NArg() > 0 {
		sessionID = fs.Arg(0)
	}
	if sessionID == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote messages <session> [--limit <n>] [--json]")
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	envelopes, err := newClient(server, cfg.UnaryTimeout).Messages(ctx, sessionID, *limit)
	if err != nil {
		return r.handleErr(err)
	}
	visible := envelopes[:0]
	for _, m := range envelopes {
		if m.HasText() {
			visible = append(visible, m)
		}
	}
	if *jsonOut {
		return r.printJSON(visible)
	}
	for i, m := range visible {
		if i > 0 {
			_, _ = fmt.Fprintln(r.out)
		}
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", m.Role, m.Text())
	}
	return 0
}

func (r *Runner) runTodo(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("todo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	sessionID, rest := peelSessionID(args)
	if err := fs.Parse(rest); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if sessionID == "" && fs.NArg() > 0 {
		sessionID = fs.Arg(0)
	}
	if sessionID == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote todo <session> [--json]")
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	items, err := newClient(server, cfg.UnaryTimeout).Todo(ctx, sessionID)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(items)
	}
	if len(items) == 0 {
		_, _ = fmt.Fprintln(r.out, "no todos")
		return 0
	}
	for _, item := range items {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", todoMarker(item.Status), item.Content)
	}
	return 0
}

func todoMarker(status model.TodoStatus) string {
	switch status {
	case model.TodoCompleted:
		return "[x]"
	case model.TodoInProgress:
		return "[~]"
	case model.TodoCancelled:
		return "[-]"
	default:
		return "[ ]"
	}
}

func (r *Runner) runDiff(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	sessionID, rest := peelSessionID(args)
	if err := fs.Parse(rest); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if sessionID == "" && fs.NArg() > 0 {
		sessionID = fs.Arg(0)
	}
	if sessionID == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote diff <session> [--json]")
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	files, err := newClient(server, cfg.UnaryTimeout).Diff(ctx, sessionID)
	if err != nil {
		return r.handleErr(err)
	}
	files = diffstat.Fill(files)
	if *jsonOut {
		return r.printJSON(files)
	}
	if len(files) == 0 {
		_, _ = fmt.Fprintln(r.out, "no changes")
		return 0
	}
	for _, f := range files {
		_, _ = fmt.Fprintf(r.out, "+%d\t-%d\t%s\n", f.Additions, f.Deletions, f.File)
	}
	sum := diffstat.Summarize(files)
	_, _ = fmt.Fprintf(r.out, "%d file(s) changed, %d insertion(s), %d deletion(s)\n",
		sum.Files, sum.Additions, sum.Deletions)
	return 0
}

func (r *Runner) runSend(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	async := fs.Bool("async", false, "queue the prompt and return immediately")
	fromStdin := fs.Bool("stdin", false, "read the prompt text from stdin")
	jsonOut := fs.Bool("json", false, "output JSON")
	sessionID, rest := peelSessionID(args)
	if err := fs.Parse(rest); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	extra := fs.Args()
	if sessionID == "" && len(extra) > 0 {
		sessionID = extra[0]
		extra = extra[1:]
	}
	if sessionID == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote send <session> [text...] [--stdin] [--async]")
		return 2
	}
	text := strings.Join(extra, " ")
	if *fromStdin {
		data, err := readAllLimit(r.in, maxSendStdinBytes)
		if err != nil {
			return r.handleErr(err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote send <session> [text...] [--stdin] [--async]")
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	client := newClient(server, cfg.PromptTimeout)
	if *async {
		if err := client.SendPromptAsync(ctx, sessionID, text); err != nil {
			return r.handleErr(err)
		}
		_, _ = fmt.Fprintf(r.out, "prompt accepted for %s\n", sessionID)
		return 0
	}
	reply, err := client.SendPrompt(ctx, sessionID, text)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(reply)
	}
	if reply.HasText() {
		_, _ = fmt.Fprintln(r.out, reply.Text())
	}
	return 0
}

func (r *Runner) runCommand(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote command <session> <command> [arguments...]")
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	arguments := strings.Join(args[2:], " ")
	if err := newClient(server, cfg.UnaryTimeout).SendCommand(ctx, args[0], args[1], arguments); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "ran %s in %s\n", args[1], args[0])
	return 0
}

func (r *Runner) runAbort(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote abort <session>")
		return 2
	}
	server, err := r.resolveServer(ctx, cfg, opts)
	if err != nil {
		return r.handleErr(err)
	}
	ok, err := newClient(server, cfg.UnaryTimeout).Abort(ctx, args[0])
	if err != nil {
		return r.handleErr(err)
	}
	if ok {
		_, _ = fmt.Fprintf(r.out, "abort requested for %s\n", args[0])
	} else {
		_, _ = fmt.Fprintf(r.out, "nothing to abort for %s\n", args[0])
	}
	return 0
}

func (r *Runner) runNotifications(ctx context.Context, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("notifications", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "maximum entries to show")
	clear := fs.Bool("clear", false, "delete all recorded notifications")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	st, err := openProfileStore(ctx, cfg)
	if err != nil {
		return r.handleErr(err)
	}
	defer st.Close() //nolint:errcheck
	if *clear {
		if err := st.ClearNotifications(ctx); err != nil {
			return r.handleErr(err)
		}
		_, _ = fmt.Fprintln(r.out, "cleared notifications")
		return 0
	}
	notifications, err := st.ListNotifications(ctx, *limit)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(notificationViews(notifications))
	}
	if len(notifications) == 0 {
		_, _ = fmt.Fprintln(r.out, "no notifications")
		return 0
	}
	for _, n := range notifications {
		title := n.Title
		if title == "" {
			title = "(untitled)"
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\n",
			n.CreatedAt.Local().Format("2006-01-02 15:04:05"), n.SessionID, title)
	}
	return 0
}

type notificationView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionID"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func notificationViews(notifications []profile.Notification) []notificationView {
	views := make([]notificationView, 0, len(notifications))
	for _, n := range notifications {
		views = append(views, notificationView{
			ID:        n.ID,
			SessionID: n.SessionID,
			Title:     n.Title,
			CreatedAt: n.CreatedAt,
		})
	}
	return views
}

func (r *Runner) runDoctor(ctx context.Context, cfg config.Config, opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	// A failed resolve leaves the server zeroed; the report explains it.
	server, _ := r.resolveServer(ctx, cfg, opts)
	result := doctor.Run(ctx, doctor.Options{
		ConfigPath: cfg.ConfigPath,
		DBPath:     cfg.DBPath,
		Server:     server,
		Timeout:    cfg.ConnectTimeout,
	})
	if *jsonOut {
		if code := r.printJSON(result); code != 0 {
			return code
		}
	} else {
		for _, check := range result.Checks {
			_, _ = fmt.Fprintf(r.out, "%-4s\t%s\t%s\n", check.Status, check.Name, check.Message)
		}
	}
	if !result.OK {
		return 1
	}
	return 0
}

func (r *Runner) runConfig(cfg config.Config, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote config <init|show>")
		return 2
	}
	switch args[0] {
	case "init":
		if err := cfg.Save(); err != nil {
			return r.handleErr(err)
		}
		_, _ = fmt.Fprintf(r.out, "wrote %s\n", cfg.ConfigPath)
		return 0
	case "show":
		_, _ = fmt.Fprintf(r.out, "config: %s\n", cfg.ConfigPath)
		_, _ = fmt.Fprintf(r.out, "db: %s\n", cfg.DBPath)
		_, _ = fmt.Fprintf(r.out, "poll_interval: %s\n", cfg.PollInterval)
		_, _ = fmt.Fprintf(r.out, "stream_backoff: %s\n", cfg.StreamBackoff)
		_, _ = fmt.Fprintf(r.out, "connect_timeout: %s\n", cfg.ConnectTimeout)
		_, _ = fmt.Fprintf(r.out, "unary_timeout: %s\n", cfg.UnaryTimeout)
		_, _ = fmt.Fprintf(r.out, "prompt_timeout: %s\n", cfg.PromptTimeout)
		_, _ = fmt.Fprintf(r.out, "message_limit: %d\n", cfg.MessageLimit)
		_, _ = fmt.Fprintf(r.out, "bell: %t\n", cfg.Bell)
		return 0
	default:
		_, _ = fmt.Fprintln(r.errOut, "usage: ocremote config <init|show>")
		return 2
	}
}

func (r *Runner) resolveServer(ctx context.Context, cfg config.Config, opts globalOptions) (model.ServerConfig, error) {
	if opts.server != "" {
		server, err := parseServerAddr(opts.server)
		if err != nil {
			return model.ServerConfig{}, err
		}
		server.Username = opts.user
		server.Password = opts.password
		server.Directory = opts.directory
		if !server.Valid() {
			return model.ServerConfig{}, fmt.Errorf("--server needs --user and --password")
		}
		return server, nil
	}
	st, err := openProfileStore(ctx, cfg)
	if err != nil {
		return model.ServerConfig{}, err
	}
	defer st.Close() //nolint:errcheck
	var prof profile.Profile
	if opts.profile != "" {
		prof, err = st.GetByName(ctx, opts.profile)
	} else {
		prof, err = st.Default(ctx)
	}
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return model.ServerConfig{}, fmt.Errorf("no server configured: run \"ocremote login\" or pass --server")
		}
		return model.ServerConfig{}, err
	}
	_ = st.TouchLastUsed(ctx, prof.Name, time.Now().UTC())
	server := prof.ServerConfig()
	if opts.user != "" {
		server.Username = opts.user
	}
	if opts.password != "" {
		server.Password = opts.password
	}
	if opts.directory != "" {
		server.Directory = opts.directory
	}
	return server, nil
}

func openProfileStore(ctx context.Context, cfg config.Config) (*profile.Store, error) {
	st, err := profile.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := profile.ApplyMigrations(ctx, st.DB()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newClient(server model.ServerConfig, timeout time.Duration) *opencode.Client {
	return opencode.New(server).WithUnaryTimeout(timeout)
}

func parseServerAddr(addr string) (model.ServerConfig, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return model.ServerConfig{}, fmt.Errorf("invalid server %q: want host:port", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return model.ServerConfig{}, fmt.Errorf("invalid server port %q", portStr)
	}
	return model.ServerConfig{Host: host, Port: port}, nil
}

// peelSessionID splits a leading non-flag argument off so the session ID may
// come before or after the command's flags.
func peelSessionID(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func (r *Runner) promptPassword() (string, error) {
	if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(r.errOut, "password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(r.errOut)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(r.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	return password, nil
}

func readAllLimit(in io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(in, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("stdin payload exceeds %d bytes", limit)
	}
	return data, nil
}

func (r *Runner) printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = r.out.Write(data)
	_, _ = fmt.Fprintln(r.out)
	return 0
}

func sessionTitle(s model.Session) string {
	if strings.TrimSpace(s.Title) == "" {
		return "(untitled)"
	}
	return s.Title
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: ocremote [--profile <name>] [--server <host:port> --user <name> --password <pw>] [--directory <dir>] <login|profile|health|list|create|rename|delete|messages|todo|diff|send|command|abort|watch|notifications|doctor|config> ...")
}
