package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/dalnet/neubot/internal/acl"
	"github.com/dalnet/neubot/internal/config"
	"github.com/dalnet/neubot/internal/event"
	"github.com/dalnet/neubot/internal/proto"
	"github.com/dalnet/neubot/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClient struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeClient) record(format string, args ...any) {
	f.mu.Lock()
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeClient) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeClient) Network() string { return "test" }
func (f *fakeClient) Nick() string { return "neubot" }
func (f *fakeClient) SendRaw(line string, _ int) { f.record("%s", line) }
func (f *fakeClient) Privmsg(target, text string) { f.record("PRIVMSG %s :%s", target, text) }
func (f *fakeClient) Notice(target, text string) { f.record("NOTICE %s :%s", target, text) }
func (f *fakeClient) Join(channel, key string) { f.record("JOIN %s %s", channel, key) }
func (f *fakeClient) Part(channel, reason string) { f.record("PART %s :%s", channel, reason) }
func (f *fakeClient) Quit(reason string) { f.record("QUIT :%s", reason) }
func (f *fakeClient) SetNick(nick string) { f.record("NICK %s", nick) }
func (f *fakeClient) SetTopic(channel, topic string) { f.record("TOPIC %s :%s", channel, topic) }
func (f *fakeClient) Ping(token string) { f.record("PING :%s", token) }
func (f *fakeClient) Pong(token string) { f.record("PONG :%s", token) }

// echo registers one command that replies with its name.
type echo struct {
	name    string
	fail    error
	cleaned *int
}

func (e *echo) Register(bus *event.Bus, _ *config.Config, store *storage.Store) error {
	bus.RegisterCommand(e.name, func(ctx *event.Context) error {
		ctx.Reply(e.name + " from " + store.Name())
		return nil
	}, e.name)
	return e.fail
}

func (e *echo) Cleanup() error {
	if e.cleaned != nil {
		*e.cleaned++
	}
	return nil
}

type harness struct {
	bus     *event.Bus
	plugins *Registry
	client  *fakeClient
	parser  *proto.Parser
	acl     *acl.Store
	level   zap.AtomicLevel
	quits   chan any
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)

	store, err := acl.Open(filepath.Join(t.TempDir(), "acl.db"), []string{"*!*@admin.host"}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		bus:    event.NewBus(log, event.WithAuthorizer(store)),
		client: &fakeClient{},
		parser: proto.NewParser(proto.NewRegistry()),
		acl:    store,
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		quits:  make(chan any, 1),
	}
	h.plugins = NewRegistry(h.bus, &config.Config{}, storage.NewMemoryDriver(), log)
	h.plugins.Provide(CoreName, func() Plugin { return NewCore(h.plugins, h.level) })
	h.plugins.Provide(ACLName, func() Plugin { return NewACL(store) })
	h.bus.RegisterSystemEvent(event.SystemQuit, func(payload any) error {
		h.quits <- payload
		return nil
	}, "test")

	t.Cleanup(func() {
		h.plugins.UnloadAll()
		h.bus.ReleaseRelated("test")
		h.wait(t)
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.bus.WaitForIdle(ctx))
}

// say delivers a PRIVMSG from prefix and waits for its handlers.
func (h *harness) say(t *testing.T, prefix, target, text string) []string {
	t.Helper()
	before := len(h.client.Lines())
	msg, err := h.parser.Parse(fmt.Sprintf(":%s PRIVMSG %s :%s", prefix, target, text))
	require.NoError(t, err)
	h.bus.DispatchEvent(h.client, msg)
	h.wait(t)
	return h.client.Lines()[before:]
}

const (
	admin  = "Boss!boss@admin.host"
	nobody = "Joe!joe@random.host"
)

func TestLoadUnload(t *testing.T) {
	h := newHarness(t)
	cleaned := 0
	h.plugins.Provide("echo", func() Plugin { return &echo{name: "echo", cleaned: &cleaned} })

	assert.Equal(t, []string{"acl", "core", "echo"}, h.plugins.Available())
	assert.Empty(t, h.plugins.Loaded())

	require.NoError(t, h.plugins.Load("echo"))
	assert.ErrorIs(t, h.plugins.Load("echo"), ErrAlreadyLoaded)
	assert.ErrorIs(t, h.plugins.Load("nope"), ErrUnknown)
	assert.Equal(t, []string{"echo"}, h.plugins.Loaded())

	assert.Equal(t, []string{"PRIVMSG #chan :echo from echo"}, h.say(t, nobody, "#chan", "!echo"))

	require.NoError(t, h.plugins.Unload("echo"))
	assert.Equal(t, 1, cleaned)
	assert.ErrorIs(t, h.plugins.Unload("echo"), ErrNotLoaded)
	assert.Empty(t, h.say(t, nobody, "#chan", "!echo"))
}

func TestFailedLoadLeavesNothing(t *testing.T) {
	h := newHarness(t)
	h.plugins.Provide("broken", func() Plugin { return &echo{name: "broken", fail: errors.New("boom")} })

	err := h.plugins.Load("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Empty(t, h.plugins.Loaded())
	assert.Empty(t, h.bus.CommandInfo("broken"))
}

func TestReloadBuildsFreshInstance(t *testing.T) {
	h := newHarness(t)
	built := 0
	h.plugins.Provide("echo", func() Plugin {
		built++
		return &echo{name: "echo"}
	})

	require.NoError(t, h.plugins.Load("echo"))
	require.NoError(t, h.plugins.Reload("echo"))
	assert.Equal(t, 2, built)
	assert.Len(t, h.bus.CommandInfo("echo"), 1)
	assert.ErrorIs(t, h.plugins.Reload("core"), ErrNotLoaded)
}

func TestHelpHidesPrivilegedCommands(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.plugins.Load(CoreName))

	out := h.say(t, nobody, "#chan", "!help")
	require.Len(t, out, 2)
	assert.Equal(t, "NOTICE Joe :Available commands: !help !motd !version", out[0])

	out = h.say(t, admin, "#chan", "!help")
	require.Len(t, out, 2)
	assert.Contains(t, out[0], "!help !join* !load* !motd !nick* ")
	assert.Contains(t, out[0], "!quit*")
	assert.Equal(t, "NOTICE Boss :Use !help <command> for details", out[1])

	assert.Equal(t, []string{"NOTICE Joe :No help available for quit"}, h.say(t, nobody, "#chan", "!help quit"))
	assert.Equal(t, []string{"NOTICE Boss :!quit [reason] - disconnect from every network and exit"},
		h.say(t, admin, "#chan", "!help !quit"))
	assert.Equal(t, []string{"NOTICE Joe :No such command: frob"}, h.say(t, nobody, "#chan", "!help frob"))
}

func TestQuitRaisesSystemEvent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.plugins.Load(CoreName))

	assert.Equal(t, []string{"PRIVMSG #chan :Access denied"}, h.say(t, nobody, "#chan", "!quit"))
	assert.Empty(t, h.quits)

	h.say(t, admin, "neubot", "!quit see you")
	select {
	case reason := <-h.quits:
		assert.Equal(t, "see you", reason)
	case <-time.After(time.Second):
		t.Fatal("quit event not raised")
	}
}

func TestPluginCommands(t *testing.T) {
	h := newHarness(t)
	h.plugins.Provide("echo", func() Plugin { return &echo{name: "echo"} })
	require.NoError(t, h.plugins.Load(CoreName))

	assert.Equal(t, []string{"PRIVMSG Boss :Loaded echo"}, h.say(t, admin, "neubot", "!load echo"))
	assert.Equal(t, []string{"PRIVMSG Boss :plugin already loaded: echo"}, h.say(t, admin, "neubot", "!load echo"))
	assert.Equal(t, []string{"PRIVMSG Boss :Reloaded echo"}, h.say(t, admin, "neubot", "!reload echo"))
	assert.Equal(t, []string{"PRIVMSG Boss :Unloaded echo"}, h.say(t, admin, "neubot", "!unload echo"))
	assert.Equal(t, []string{"PRIVMSG Boss :Must supply the name of a plugin to load"}, h.say(t, admin, "neubot", "!load"))
	assert.Equal(t, []string{
		"PRIVMSG Boss :Loaded: core",
		"PRIVMSG Boss :Available: acl core echo",
	}, h.say(t, admin, "neubot", "!plugins"))
}

func TestDebugTogglesLevel(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.plugins.Load(CoreName))

	h.say(t, admin, "#chan", "!debug on")
	assert.Equal(t, zapcore.DebugLevel, h.level.Level())
	h.say(t, admin, "#chan", "!debug off")
	assert.Equal(t, zapcore.InfoLevel, h.level.Level())
	assert.Equal(t, []string{"PRIVMSG #chan :Usage: debug on|off"}, h.say(t, admin, "#chan", "!debug maybe"))
}

func TestChannelControls(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.plugins.Load(CoreName))

	assert.Equal(t, []string{"JOIN #ops sekrit"}, h.say(t, admin, "neubot", "!join #ops sekrit"))
	assert.Equal(t, []string{"PART #ops :going  away"}, h.say(t, admin, "neubot", "!part #ops going  away"))
	assert.Equal(t, []string{"NICK neubot2"}, h.say(t, admin, "neubot", "!nick neubot2"))
	assert.Equal(t, []string{"PRIVMSG #ops :hello there"}, h.say(t, admin, "neubot", "!say #ops hello there"))
	assert.Equal(t, []string{"PRIVMSG Boss :Usage: say <target> <message>"}, h.say(t, admin, "neubot", "!say #ops"))
}

func TestMotdPersistsInPluginBucket(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.plugins.Load(CoreName))

	assert.Equal(t, []string{"PRIVMSG #chan :No MOTD set"}, h.say(t, nobody, "#chan", "!motd"))
	assert.Equal(t, []string{"PRIVMSG #chan :Access denied"}, h.say(t, nobody, "#chan", "!setmotd hi"))
	assert.Equal(t, []string{"PRIVMSG #chan :MOTD updated"}, h.say(t, admin, "#chan", "!setmotd welcome all"))

	out := h.say(t, nobody, "#chan", "!motd")
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "MOTD (set by Boss on ")
	assert.Contains(t, out[0], "): welcome all")

	keys, err := storage.Bucket(h.plugins.driver, CoreName).Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"motd", "motd_setter"}, keys)
}

func TestACLCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.plugins.Load(CoreName))
	require.NoError(t, h.plugins.Load(ACLName))

	assert.Equal(t, []string{"PRIVMSG #chan :Access denied"}, h.say(t, nobody, "#chan", "!load echo"))

	assert.Equal(t, []string{"PRIVMSG #chan :Granted Joe!*@random.host access to load"},
		h.say(t, admin, "#chan", "!acl allow load Joe!*@random.host"))
	assert.Equal(t, []string{"PRIVMSG #chan :no such plugin: echo"}, h.say(t, nobody, "#chan", "!load echo"))
	assert.Equal(t, []string{"PRIVMSG #chan :Access denied"}, h.say(t, nobody, "#chan", "!acl show load"))

	assert.Equal(t, []string{"PRIVMSG #chan :load: Joe!*@random.host"}, h.say(t, admin, "#chan", "!acl show load"))
	assert.Equal(t, []string{"PRIVMSG #chan :Joe!x@random.host may use load"},
		h.say(t, admin, "#chan", "!acl check load Joe!x@random.host"))
	assert.Equal(t, []string{"PRIVMSG #chan :Ann!x@random.host may not use load"},
		h.say(t, admin, "#chan", "!acl check load Ann!x@random.host"))
	assert.Equal(t, []string{"PRIVMSG #chan :Masters: *!*@admin.host"}, h.say(t, admin, "#chan", "!acl masters"))
	assert.Equal(t, []string{"PRIVMSG #chan :Revoked Joe!*@random.host access to load"},
		h.say(t, admin, "#chan", "!acl revoke load Joe!*@random.host"))
	assert.Equal(t, []string{"PRIVMSG #chan :Joe!*@random.host had no access to load"},
		h.say(t, admin, "#chan", "!acl revoke load Joe!*@random.host"))
	assert.Equal(t, []string{"PRIVMSG #chan :No grants for load"}, h.say(t, admin, "#chan", "!acl show load"))
}

func TestACLCommandSyntax(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.plugins.Load(ACLName))

	assert.Equal(t, []string{"PRIVMSG #chan :Not enough parameters"}, h.say(t, admin, "#chan", "!acl allow load"))
	assert.Equal(t, []string{"PRIVMSG #chan :Too many parameters"}, h.say(t, admin, "#chan", "!acl masters now"))
	assert.Equal(t, []string{"PRIVMSG #chan :Syntax error. Unknown parameter 'grant'"}, h.say(t, admin, "#chan", "!acl grant x"))

	out := h.say(t, admin, "#chan", "!acl allow load not-a-mask")
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "PRIVMSG #chan :")
	assert.True(t, h.acl.IsAuthorized(proto.NewIdentity("Boss", "boss", "admin.host"), "load"))
	grants, err := h.acl.Grants("load")
	require.NoError(t, err)
	assert.Empty(t, grants)
}
