// Package router turns transport updates into command, callback and
// free-text handler calls.
//
// Updates of one chat always land on the same worker, so a conversation
// sees its messages in order.
package router

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskbot/internal/runtime/supervisor"
	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
	"taskbot/pkg/tgui"
)

var ErrBusy = errors.New("router: queue full")

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string   // without the leading slash
	Aliases     []string // extra command words
	Labels      []string // reply-keyboard texts that trigger the command
	Description string
	Usage       string
	Hidden      bool // kept out of /help and the client menu
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackRoute struct {
	NS      string
	Action  string
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one routed update.
type Request struct {
	Update     kit.Update
	Chat       kit.ChatTarget
	FromID     int64
	MessageID  int
	Command    string   // command name, "cb:ns:action" or "text"
	Args       []string // command arguments
	ArgLine    string   // everything after the command word
	Text       string   // full message text
	Payload    string   // callback payload
	CallbackID string
	ReqID      string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends a rendered message to the request's chat.
func (r *Request) Reply(ctx context.Context, m tgui.Message) (kit.MessageRef, error) {
	return m.Send(ctx, r.Adapter, r.Chat)
}

// ReplyText sends plain text to the request's chat.
func (r *Request) ReplyText(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, nil)
	return err
}

// Edit replaces the message a callback came from, or replies when the
// request is not a callback.
func (r *Request) Edit(ctx context.Context, m tgui.Message) error {
	if r.Update.Kind != kit.UpdateCallback || r.MessageID == 0 {
		_, err := r.Reply(ctx, m)
		return err
	}
	return m.Edit(ctx, r.Adapter, kit.MessageRef{ChatID: r.Chat.ChatID, MessageID: r.MessageID})
}

type Config struct {
	Workers        int
	QueueSize      int // per worker
	DefaultTimeout time.Duration
}

type Router struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter

	mu        sync.RWMutex
	cmds      []Command
	byWord    map[string]*Command
	byLabel   map[string]*Command
	callbacks map[string]CallbackRoute // "ns:action"
	text      HandlerFunc

	runMu  sync.Mutex
	queues []chan func()
	sup    *supervisor.Supervisor
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:       cfg,
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		byWord:    map[string]*Command{},
		byLabel:   map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
	}
}

// SetRegistry replaces the command and callback tables. A help command is
// always added.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "show available commands",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpMessage())
			return err
		},
	})

	byWord := map[string]*Command{}
	byLabel := map[string]*Command{}
	for i := range cmds {
		c := &cmds[i]
		name := normalizeWord(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		byWord[name] = c
		for _, a := range c.Aliases {
			if a = normalizeWord(a); a != "" {
				byWord[a] = c
			}
		}
		for _, l := range c.Labels {
			if l = strings.TrimSpace(l); l != "" {
				byLabel[l] = c
			}
		}
	}
	cb := map[string]CallbackRoute{}
	for _, route := range cbs {
		if route.NS == "" || route.Action == "" || route.Handle == nil {
			continue
		}
		cb[route.NS+":"+route.Action] = route
	}

	r.mu.Lock()
	r.cmds = cmds
	r.byWord = byWord
	r.byLabel = byLabel
	r.callbacks = cb
	r.mu.Unlock()
}

// SetTextHandler routes plain (non-command) text, e.g. to a conversation.
func (r *Router) SetTextHandler(h HandlerFunc) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

// Commands returns the registered commands.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.cmds...)
}

// UpdateMenu pushes the visible commands to the client menu when the
// adapter supports it.
func (r *Router) UpdateMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, menuCommands(r.Commands()))
}

// Dispatch routes updates until ctx ends or updates is closed.
func (r *Router) Dispatch(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))
	queues := make([]chan func(), r.cfg.Workers)
	for i := range queues {
		q := make(chan func(), r.cfg.QueueSize)
		queues[i] = q
		sup.GoRestart("router.worker."+strconv.Itoa(i), func(c context.Context) error {
			return r.work(c, q)
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.runMu.Lock()
	r.queues, r.sup = queues, sup
	r.runMu.Unlock()
	r.log.Info("dispatcher started", logx.Int("workers", r.cfg.Workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.queues, r.sup = nil, nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

// Supervisor exposes the worker group for status reporting; nil when idle.
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

func (r *Router) work(ctx context.Context, q <-chan func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q:
			job()
		}
	}
}

func (r *Router) enqueue(chatID int64, job func()) error {
	r.runMu.Lock()
	queues := r.queues
	r.runMu.Unlock()
	if len(queues) == 0 {
		return ErrBusy
	}
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(chatID, 10)))
	select {
	case queues[h.Sum32()%uint32(len(queues))] <- job:
		return nil
	default:
		return ErrBusy
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	req := r.newRequest(up, msg.ChatID, msg.FromID)
	req.MessageID = msg.ID
	req.Text = text

	r.mu.RLock()
	textHandler := r.text
	var cmd *Command
	if strings.HasPrefix(text, "/") {
		word, rest := splitCommand(text)
		cmd = r.byWord[word]
		req.Command = word
		req.ArgLine = rest
		req.Args = strings.Fields(rest)
	} else if c, ok := r.byLabel[text]; ok {
		cmd = c
		req.Command = c.Name
	}
	r.mu.RUnlock()

	var (
		h       HandlerFunc
		timeout = r.cfg.DefaultTimeout
	)
	switch {
	case cmd != nil:
		h = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	case strings.HasPrefix(text, "/"):
		h = func(ctx context.Context, req *Request) error {
			return req.ReplyText(ctx, "Unknown command. Try /help")
		}
	case textHandler != nil:
		req.Command = "text"
		h = textHandler
	default:
		return
	}
	r.submit(ctx, req, h, timeout)
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	data, ok := tgui.ParseData(cb.Data)
	if !ok {
		return
	}
	r.mu.RLock()
	route, ok := r.callbacks[data.NS+":"+data.Action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	req := r.newRequest(up, cb.ChatID, cb.FromID)
	req.MessageID = cb.MessageID
	req.Command = "cb:" + data.NS + ":" + data.Action
	req.Payload = data.Payload
	req.CallbackID = cb.ID

	timeout := r.cfg.DefaultTimeout
	if route.Timeout > 0 {
		timeout = route.Timeout
	}
	h := func(ctx context.Context, req *Request) error {
		err := route.Handle(ctx, req)
		// Stops the client's loading indicator.
		_ = r.adapter.AnswerCallback(ctx, req.CallbackID, "")
		return err
	}
	r.submit(ctx, req, h, timeout)
}

func (r *Router) newRequest(up kit.Update, chatID, fromID int64) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: chatID},
		FromID:  fromID,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger:  r.log.With(logx.String("rid", rid), logx.Int64("chat_id", chatID)),
	}
}

func (r *Router) submit(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) {
	final := Chain(h, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
	if err := r.enqueue(req.Chat.ChatID, func() { _ = final(ctx, req) }); err != nil {
		r.log.Warn("update dropped", logx.String("cmd", req.Command), logx.Err(err))
		if req.CallbackID != "" {
			_ = r.adapter.AnswerCallback(ctx, req.CallbackID, "busy, try again")
			return
		}
		_ = req.ReplyText(ctx, "Busy, try again")
	}
}

// splitCommand returns the lowercased command word without "/" and any
// "@botname" suffix, and the rest of the line.
func splitCommand(text string) (string, string) {
	word, rest, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), strings.TrimSpace(rest)
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}
