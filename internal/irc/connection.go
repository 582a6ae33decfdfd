package irc

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ergochat/irc-go/ircreader"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dalnet/neubot/internal/config"
	"github.com/dalnet/neubot/internal/event"
	"github.com/dalnet/neubot/internal/proto"
)

// Version information (set at build time or here)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// State is the connection lifecycle state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistering
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// session is one transport lifetime. Everything started for it stops
// when stop closes.
type session struct {
	conn   net.Conn
	server Server
	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	loops  errgroup.Group
	done   chan struct{}
}

// Option configures a Connection
type Option func(*Connection)

// WithDialer replaces the TCP/TLS dialer.
func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dialer = d }
}

// WithRegistry shares an identity registry.
func WithRegistry(r *proto.Registry) Option {
	return func(c *Connection) { c.users = r }
}

// Connection is the session with one IRC network. It survives transport
// loss: channels and settings persist while each new transport gets a
// fresh writer, reader and keepalive watchdog.
type Connection struct {
	name     string
	net      config.Network
	tun      config.Tunables
	bus      *event.Bus
	log      *zap.Logger
	dialer   Dialer
	users    *proto.Registry
	parser   *proto.Parser
	queue    *OutputQueue
	owner    string
	recovery string

	state         atomic.Int32
	autoReconnect atomic.Bool
	lastActivity  atomic.Int64

	mu               sync.Mutex
	servers          []Server
	cursor           int
	dialing          bool
	epoch            uint64
	sess             *session
	nick             string
	pendingNick      string
	altIndex         int
	reclaimScheduled bool
	reconnectTimer   *event.Timer
	channels         map[string]*Channel
	order            []string
	joining          map[string]bool
}

var _ event.Client = (*Connection)(nil)

// NewConnection creates a disconnected connection and registers its
// protocol handlers on bus.
func NewConnection(network config.Network, tun config.Tunables, bus *event.Bus, log *zap.Logger, opts ...Option) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Connection{
		name:     network.Name,
		net:      network,
		tun:      tun,
		bus:      bus,
		log:      log.With(zap.String("network", network.Name)),
		dialer:   &NetDialer{Timeout: tun.DialTimeout},
		queue:    NewOutputQueue(),
		owner:    "irc/" + network.Name,
		recovery: "irc/" + network.Name + "/recovery",
		channels: make(map[string]*Channel),
		joining:  make(map[string]bool),
	}
	for _, s := range network.Servers {
		c.servers = append(c.servers, serverFromConfig(s))
	}
	for _, ch := range network.Channels {
		c.AddChannel(ch.Name, ch.Key)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.users == nil {
		c.users = proto.NewRegistry()
	}
	c.parser = proto.NewParser(c.users)
	c.registerHandlers()
	return c
}

// Network returns the network name
func (c *Connection) Network() string {
	return c.name
}

// Nick returns the confirmed nick, empty before registration completes.
func (c *Connection) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// State returns the lifecycle state
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.log.Debug("state change", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

// Users returns the identity registry for this network
func (c *Connection) Users() *proto.Registry {
	return c.users
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Connect enables automatic reconnection and dials the next server in the
// rotation. A failed dial is retried after reconnect_time.
func (c *Connection) Connect() error {
	c.autoReconnect.Store(true)
	return c.connect()
}

func (c *Connection) connect() error {
	c.mu.Lock()
	if c.sess != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}
	if len(c.servers) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("network %q has no servers", c.name)
	}
	if !c.autoReconnect.Load() {
		c.mu.Unlock()
		return ErrNotConnected
	}
	epoch := c.epoch
	c.dialing = true
	server := c.servers[c.cursor]
	c.cursor = (c.cursor + 1) % len(c.servers)
	c.nick = ""
	c.pendingNick = ""
	c.altIndex = 0
	c.reclaimScheduled = false
	c.mu.Unlock()

	c.setState(StateConnecting)
	c.log.Info("connecting", zap.Stringer("server", server))

	ctx, cancel := context.WithTimeout(context.Background(), c.tun.DialTimeout)
	conn, err := c.dialer.Dial(ctx, server)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()

		err = &ConnectionFailedError{Server: server, Err: err}
		c.log.Error("connect failed", zap.Error(err))
		c.setState(StateDisconnected)
		c.scheduleReconnect()
		return err
	}

	if !c.start(conn, server, epoch) {
		conn.Close()
		c.log.Info("disconnected while dialing, dropping transport", zap.Stringer("server", server))
		c.setState(StateDisconnected)
		return ErrNotConnected
	}
	return nil
}

// start brings up a session on conn unless Disconnect ran since the dial
// began.
func (c *Connection) start(conn net.Conn, server Server, epoch uint64) bool {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		server: server,
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.dialing = false
	if c.epoch != epoch {
		c.mu.Unlock()
		cancel()
		return false
	}
	c.sess = sess
	c.mu.Unlock()

	c.touch()
	c.setState(StateRegistering)
	c.log.Info("connected", zap.Stringer("server", server))

	sess.loops.Go(func() error {
		err := c.queue.writeLoop(sess.stop, conn, c.tun.RateLimitBurstMax, c.tun.RateLimitWaitTime, c.log)
		if err != nil {
			conn.Close()
		}
		return err
	})
	sess.loops.Go(func() error {
		return c.watchdog(sess)
	})
	go c.readLoop(sess)

	if c.net.Password != "" {
		c.SendRaw("PASS "+c.net.Password, PriorityControl)
	}
	c.SendRaw(fmt.Sprintf("USER %s 9 * :%s", c.net.Ident, c.net.RealName), PriorityElevated)
	c.SetNick(c.net.Nick)
	return true
}

func (c *Connection) readLoop(sess *session) {
	reader := ircreader.NewIRCReader(sess.conn)

	var cause error
	for {
		raw, err := reader.ReadLine()
		if err != nil {
			cause = err
			break
		}
		line := strings.TrimRight(string(raw), "\r\n")
		if line == "" {
			continue
		}
		c.touch()

		msg, err := c.parser.Parse(line)
		if err != nil {
			c.log.Warn("ignoring line", zap.Error(err))
			continue
		}
		c.log.Debug("<-", zap.String("line", line))
		c.bus.DispatchEvent(c, msg)
	}

	c.teardown(sess, cause)
}

// teardown runs once per session, from its reader.
func (c *Connection) teardown(sess *session, cause error) {
	close(sess.stop)
	sess.cancel()
	sess.conn.Close()

	wait := make(chan error, 1)
	go func() { wait <- sess.loops.Wait() }()
	timer := time.NewTimer(c.tun.DisconnectTimeout)
	select {
	case err := <-wait:
		timer.Stop()
		if err != nil {
			cause = err
		}
	case <-timer.C:
		c.log.Error("session goroutines still running", zap.Error(ErrDisconnectTimeout))
	}

	c.mu.Lock()
	c.sess = nil
	c.nick = ""
	c.joining = make(map[string]bool)
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	dropped := c.queue.Clear()
	for _, ch := range channels {
		ch.setJoined(false)
	}

	c.setState(StateDisconnected)
	c.log.Info("disconnected",
		zap.Stringer("server", sess.server),
		zap.Error(&ConnectionLostError{Err: cause}),
		zap.Int("dropped", dropped))
	close(sess.done)

	c.scheduleReconnect()
}

func (c *Connection) scheduleReconnect() {
	if !c.autoReconnect.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		return
	}
	c.setState(StateReconnecting)
	c.log.Info("reconnecting", zap.Duration("in", c.tun.ReconnectTime))
	var t *event.Timer
	t = c.bus.RegisterTimer(func() error {
		c.mu.Lock()
		if c.reconnectTimer == t {
			c.reconnectTimer = nil
		}
		c.mu.Unlock()
		if !c.autoReconnect.Load() {
			return nil
		}
		c.connect()
		return nil
	}, c.recovery, c.tun.ReconnectTime, false)
	c.reconnectTimer = t
}

// Reconnect drops the current transport. The next server is dialed after
// reconnect_time.
func (c *Connection) Reconnect() {
	c.autoReconnect.Store(true)

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		c.scheduleReconnect()
		return
	}
	sess.conn.Close()
}

// Disconnect closes the transport without reconnecting and cancels pending
// reconnect, rejoin and nick reclaim timers.
func (c *Connection) Disconnect() error {
	c.autoReconnect.Store(false)
	c.bus.ReleaseRelated(c.recovery)

	c.mu.Lock()
	c.epoch++
	c.reconnectTimer = nil
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		c.setState(StateDisconnected)
		return nil
	}
	sess.conn.Close()

	timer := time.NewTimer(2 * c.tun.DisconnectTimeout)
	defer timer.Stop()
	select {
	case <-sess.done:
		return nil
	case <-timer.C:
		return ErrDisconnectTimeout
	}
}

// Close disconnects and removes this connection's protocol handlers.
func (c *Connection) Close() error {
	err := c.Disconnect()
	c.bus.ReleaseRelated(c.owner)
	return err
}

// Flush waits until every queued line has been written or dropped.
func (c *Connection) Flush(ctx context.Context) error {
	return c.queue.Flush(ctx)
}

func (c *Connection) watchdog(sess *session) error {
	ticker := time.NewTicker(c.tun.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stop:
			return nil
		case <-ticker.C:
		}

		idle := time.Since(time.Unix(0, c.lastActivity.Load()))
		switch {
		case idle >= c.tun.PongDisconnectTime:
			c.log.Warn("no reply from server, dropping connection", zap.Duration("idle", idle))
			sess.conn.Close()
			return nil
		case idle >= c.tun.PongTimeout && c.State() == StateReady:
			c.Ping(sess.server.Host)
		}
	}
}

// AddChannel tracks a channel, updating its key when it already exists.
func (c *Connection) AddChannel(name, key string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[name]; ok {
		if key != "" {
			ch.setKey(key)
		}
		return ch
	}
	ch := newChannel(name, key)
	c.channels[name] = ch
	c.order = append(c.order, name)
	return ch
}

// RemoveChannel stops tracking a channel.
func (c *Connection) RemoveChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[name]; !ok {
		return
	}
	delete(c.channels, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Channel looks up a tracked channel
func (c *Connection) Channel(name string) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	return ch, ok
}

// Channels returns tracked channels in the order they were added.
func (c *Connection) Channels() []*Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Channel, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.channels[name])
	}
	return out
}

// randomizeNick replaces one character of nick with a random uppercase
// letter, retrying until the result differs.
func randomizeNick(nick string) string {
	runes := []rune(nick)
	if len(runes) == 0 {
		return nick
	}
	for {
		out := append([]rune(nil), runes...)
		out[rand.Intn(len(out))] = rune('A' + rand.Intn(26))
		if s := string(out); s != nick {
			return s
		}
	}
}

// nextNickLocked picks the nick to try after a collision. Callers hold c.mu.
func (c *Connection) nextNickLocked() string {
	alts := c.net.AltNicks
	if len(alts) == 0 {
		return randomizeNick(c.net.Nick)
	}
	next := alts[c.altIndex%len(alts)]
	c.altIndex = (c.altIndex + 1) % len(alts)
	return next
}

func (c *Connection) scheduleReclaim() {
	c.log.Info("nick taken, will try to reclaim it",
		zap.String("nick", c.net.Nick),
		zap.Duration("in", c.tun.ReclaimNickTime))
	c.bus.RegisterTimer(func() error {
		if c.State() == StateReady && c.Nick() != c.net.Nick {
			c.SetNick(c.net.Nick)
		}
		return nil
	}, c.recovery, c.tun.ReclaimNickTime, false)
}

func (c *Connection) scheduleRejoin(channel string) {
	c.log.Info("will rejoin channel",
		zap.String("channel", channel),
		zap.Duration("in", c.tun.RejoinChannelTime))
	c.bus.RegisterTimer(func() error {
		if ch, ok := c.Channel(channel); ok {
			c.Join(channel, ch.Key())
		}
		return nil
	}, c.recovery, c.tun.RejoinChannelTime, false)
}

func (c *Connection) joinAll() {
	for _, ch := range c.Channels() {
		if !ch.Joined() {
			c.Join(ch.Name(), ch.Key())
		}
	}
}
