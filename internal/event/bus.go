// Package event routes parsed messages, commands and internal notifications
// to handlers registered by connections and plugins.
package event

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dalnet/neubot/internal/command"
	"github.com/dalnet/neubot/internal/proto"
)

// SystemQuit is dispatched when the bot has been asked to shut down.
const SystemQuit = "BOT_QUIT"

// Handler handles a command or protocol event.
type Handler func(*Context) error

// SystemHandler handles an internal notification.
type SystemHandler func(payload any) error

// Authorizer decides whether an identity may run a privileged command.
type Authorizer interface {
	IsAuthorized(id *proto.Identity, context string) bool
}

// HandlerError wraps a failure (or recovered panic) from a handler.
type HandlerError struct {
	Owner string
	Name  string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s/%s: %v", e.Owner, e.Name, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type registration struct {
	owner      string
	handler    Handler
	privileged bool
	help       string
}

type systemRegistration struct {
	owner   string
	handler SystemHandler
}

// CommandOption configures a command registration.
type CommandOption func(*registration)

// Privileged requires the sender to pass the Authorizer.
func Privileged() CommandOption {
	return func(r *registration) { r.privileged = true }
}

// Help attaches help text shown by the help command.
func Help(text string) CommandOption {
	return func(r *registration) { r.help = text }
}

// CommandInfo describes one registration of a command.
type CommandInfo struct {
	Owner      string
	Privileged bool
	Help       string
}

// Option configures a Bus.
type Option func(*Bus)

// WithPrefix sets the command prefix. Default is "!".
func WithPrefix(prefix string) Option {
	return func(b *Bus) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithAuthorizer sets the access check for privileged commands.
func WithAuthorizer(a Authorizer) Option {
	return func(b *Bus) { b.auth = a }
}

// Bus owns every handler table. Handlers run concurrently, each in its own
// goroutine, and are tracked so callers can wait for quiescence.
type Bus struct {
	log       *zap.Logger
	prefix    string
	auth      Authorizer
	commandRe *regexp.Regexp

	mu       sync.RWMutex
	commands map[string][]*registration
	events   map[string][]*registration
	system   map[string][]*systemRegistration
	timers   map[string]map[*Timer]struct{}

	idleMu   sync.Mutex
	inflight int
	idle     chan struct{}
}

// NewBus creates an empty bus
func NewBus(log *zap.Logger, opts ...Option) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		log:      log,
		prefix:   "!",
		commands: make(map[string][]*registration),
		events:   make(map[string][]*registration),
		system:   make(map[string][]*systemRegistration),
		timers:   make(map[string]map[*Timer]struct{}),
		idle:     make(chan struct{}),
	}
	close(b.idle)
	for _, opt := range opts {
		opt(b)
	}
	b.commandRe = regexp.MustCompile(`^` + regexp.QuoteMeta(b.prefix) + `(\w+)(?:\s+(.*))?$`)
	return b
}

// Prefix returns the command prefix
func (b *Bus) Prefix() string {
	return b.prefix
}

// RegisterCommand adds a handler for a prefixed command word. Names are
// case-insensitive.
func (b *Bus) RegisterCommand(name string, h Handler, owner string, opts ...CommandOption) {
	r := &registration{owner: owner, handler: h}
	for _, opt := range opts {
		opt(r)
	}
	key := strings.ToLower(name)

	b.mu.Lock()
	b.commands[key] = append(b.commands[key], r)
	b.mu.Unlock()
}

// RegisterEvent adds a handler for a protocol verb or numeric.
func (b *Bus) RegisterEvent(name string, h Handler, owner string) {
	key := strings.ToUpper(name)

	b.mu.Lock()
	b.events[key] = append(b.events[key], &registration{owner: owner, handler: h})
	b.mu.Unlock()
}

// RegisterSystemEvent adds a handler for an internal notification.
func (b *Bus) RegisterSystemEvent(name string, h SystemHandler, owner string) {
	key := strings.ToUpper(name)

	b.mu.Lock()
	b.system[key] = append(b.system[key], &systemRegistration{owner: owner, handler: h})
	b.mu.Unlock()
}

// ReleaseRelated drops every command, event, system event and timer owned
// by owner. Releasing twice is harmless.
func (b *Bus) ReleaseRelated(owner string) {
	b.mu.Lock()
	for key, regs := range b.commands {
		if kept := without(regs, owner); len(kept) > 0 {
			b.commands[key] = kept
		} else {
			delete(b.commands, key)
		}
	}
	for key, regs := range b.events {
		if kept := without(regs, owner); len(kept) > 0 {
			b.events[key] = kept
		} else {
			delete(b.events, key)
		}
	}
	for key, regs := range b.system {
		kept := regs[:0:0]
		for _, r := range regs {
			if r.owner != owner {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			b.system[key] = kept
		} else {
			delete(b.system, key)
		}
	}
	timers := b.timers[owner]
	delete(b.timers, owner)
	b.mu.Unlock()

	for t := range timers {
		t.stop()
	}
}

func without(regs []*registration, owner string) []*registration {
	kept := make([]*registration, 0, len(regs))
	for _, r := range regs {
		if r.owner != owner {
			kept = append(kept, r)
		}
	}
	return kept
}

// Commands lists registered command names, sorted.
func (b *Bus) Commands() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CommandInfo describes every registration of a command.
func (b *Bus) CommandInfo(name string) []CommandInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []CommandInfo
	for _, r := range b.commands[strings.ToLower(name)] {
		out = append(out, CommandInfo{Owner: r.owner, Privileged: r.privileged, Help: r.help})
	}
	return out
}

// Handlers returns how many handlers are registered for an event.
func (b *Bus) Handlers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events[strings.ToUpper(name)])
}

// Authorized runs the access check for a command context.
func (b *Bus) Authorized(id *proto.Identity, context string) bool {
	b.mu.RLock()
	auth := b.auth
	b.mu.RUnlock()
	if auth == nil || id == nil {
		return false
	}
	return auth.IsAuthorized(id, context)
}

// DispatchEvent starts every handler registered for msg.Command. A PRIVMSG
// starting with the command prefix is also routed as a command.
func (b *Bus) DispatchEvent(c Client, msg *proto.Message) {
	if msg == nil || msg.Command == "" {
		return
	}

	b.mu.RLock()
	regs := append([]*registration(nil), b.events[msg.Command]...)
	b.mu.RUnlock()

	ctx := &Context{Client: c, Message: msg}
	for _, r := range regs {
		r := r
		b.spawn(r.owner, msg.Command, func() error { return r.handler(ctx) }, nil)
	}

	if msg.Command == "PRIVMSG" {
		if m := b.commandRe.FindStringSubmatch(msg.Params); m != nil {
			b.DispatchCommand(c, msg, m[1], m[2])
		}
	}
}

// DispatchCommand starts every handler registered for name. Privileged
// handlers consult the Authorizer once per dispatch; a denial replies
// "Access denied" and stops the dispatch.
func (b *Bus) DispatchCommand(c Client, msg *proto.Message, name, raw string) {
	name = strings.ToLower(name)

	b.mu.RLock()
	regs := append([]*registration(nil), b.commands[name]...)
	b.mu.RUnlock()
	if len(regs) == 0 {
		return
	}

	ctx := &Context{Client: c, Message: msg, Command: name, Args: ParseArgs(raw)}

	var checked, allowed bool
	for _, r := range regs {
		if r.privileged {
			if !checked {
				allowed = b.Authorized(msg.User, name)
				checked = true
			}
			if !allowed {
				b.log.Info("access denied",
					zap.String("command", name),
					zap.Stringer("source", msg.User))
				ctx.Reply("Access denied")
				return
			}
		}
		r := r
		b.spawn(r.owner, name, func() error { return r.handler(ctx) }, ctx)
	}
}

// DispatchSystemEvent starts every handler registered for name.
func (b *Bus) DispatchSystemEvent(name string, payload any) {
	key := strings.ToUpper(name)

	b.mu.RLock()
	regs := append([]*systemRegistration(nil), b.system[key]...)
	b.mu.RUnlock()

	for _, r := range regs {
		r := r
		b.spawn(r.owner, key, func() error { return r.handler(payload) }, nil)
	}
}

// Go runs fn as tracked work, so WaitForIdle also waits for it.
func (b *Bus) Go(owner, name string, fn func() error) {
	b.spawn(owner, name, fn, nil)
}

func (b *Bus) spawn(owner, name string, fn func() error, cmd *Context) {
	b.begin()
	go func() {
		defer b.done()
		if err := call(fn); err != nil {
			b.report(owner, name, err, cmd)
		}
	}()
}

func (b *Bus) report(owner, name string, err error, cmd *Context) {
	var serr *command.SyntaxError
	if cmd != nil && errors.As(err, &serr) {
		cmd.Reply(serr.Msg)
		return
	}
	b.log.Error("handler failed", zap.Error(&HandlerError{Owner: owner, Name: name, Err: err}))
}

// call runs fn, turning a panic into an error.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

func (b *Bus) begin() {
	b.idleMu.Lock()
	if b.inflight == 0 {
		b.idle = make(chan struct{})
	}
	b.inflight++
	b.idleMu.Unlock()
}

func (b *Bus) done() {
	b.idleMu.Lock()
	b.inflight--
	if b.inflight == 0 {
		close(b.idle)
	}
	b.idleMu.Unlock()
}

// InFlight returns the number of running handlers and tracked tasks.
func (b *Bus) InFlight() int {
	b.idleMu.Lock()
	defer b.idleMu.Unlock()
	return b.inflight
}

// WaitForIdle blocks until no handler or tracked task is running,
// including work started by handlers while waiting.
func (b *Bus) WaitForIdle(ctx context.Context) error {
	for {
		b.idleMu.Lock()
		if b.inflight == 0 {
			b.idleMu.Unlock()
			return nil
		}
		idle := b.idle
		b.idleMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
