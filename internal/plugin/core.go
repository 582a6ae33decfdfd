package plugin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dalnet/neubot/internal/command"
	"github.com/dalnet/neubot/internal/config"
	"github.com/dalnet/neubot/internal/event"
	"github.com/dalnet/neubot/internal/irc"
	"github.com/dalnet/neubot/internal/storage"
)

// CoreName is the owner name of the core plugin.
const CoreName = "core"

// Core provides bot administration commands: help, quit, plugin
// management, debug logging and a few channel controls.
type Core struct {
	plugins *Registry
	level   zap.AtomicLevel
	store   *storage.Store
	prefix  string
	bus     *event.Bus
}

// NewCore creates the core plugin. level is switched by the debug command.
func NewCore(plugins *Registry, level zap.AtomicLevel) *Core {
	return &Core{plugins: plugins, level: level}
}

// Register implements Plugin.
func (c *Core) Register(bus *event.Bus, cfg *config.Config, store *storage.Store) error {
	c.bus = bus
	c.store = store
	c.prefix = bus.Prefix()

	bus.RegisterCommand("help", c.help, CoreName,
		event.Help("help [command] - list commands, or show help for one"))
	bus.RegisterCommand("version", c.version, CoreName,
		event.Help("version - displays bot version information"))
	bus.RegisterCommand("motd", c.motd, CoreName,
		event.Help("motd - displays the message of the day"))
	bus.RegisterCommand("setmotd", c.setMotd, CoreName, event.Privileged(),
		event.Help("setmotd <message> - sets the message of the day"))

	bus.RegisterCommand("quit", c.quit, CoreName, event.Privileged(),
		event.Help("quit [reason] - disconnect from every network and exit"))
	bus.RegisterCommand("load", c.load, CoreName, event.Privileged(),
		event.Help("load <plugin> - load a plugin"))
	bus.RegisterCommand("unload", c.unload, CoreName, event.Privileged(),
		event.Help("unload <plugin> - unload a plugin"))
	bus.RegisterCommand("reload", c.reload, CoreName, event.Privileged(),
		event.Help("reload <plugin> - unload and load a plugin"))
	bus.RegisterCommand("plugins", c.list, CoreName, event.Privileged(),
		event.Help("plugins - list loaded and available plugins"))
	bus.RegisterCommand("debug", c.debug, CoreName, event.Privileged(),
		event.Help("debug on|off - toggle debug logging"))

	bus.RegisterCommand("join", c.join, CoreName, event.Privileged(),
		event.Help("join <channel> [key] - join a channel"))
	bus.RegisterCommand("part", c.part, CoreName, event.Privileged(),
		event.Help("part <channel> [reason] - leave a channel"))
	bus.RegisterCommand("nick", c.nick, CoreName, event.Privileged(),
		event.Help("nick <nick> - if you need to change my nick"))
	bus.RegisterCommand("say", c.say, CoreName, event.Privileged(),
		event.Help("say <target> <message> - send a message"))
	return nil
}

func (c *Core) help(ctx *event.Context) error {
	source := ctx.Source()

	if name := ctx.Args.Get(0); name != "" {
		name = strings.TrimPrefix(strings.ToLower(name), c.prefix)
		infos := c.bus.CommandInfo(name)
		if len(infos) == 0 {
			ctx.ReplyNotice("No such command: " + name)
			return nil
		}
		shown := 0
		for _, info := range infos {
			if info.Help == "" || (info.Privileged && !c.bus.Authorized(source, name)) {
				continue
			}
			ctx.ReplyNotice(c.prefix + info.Help)
			shown++
		}
		if shown == 0 {
			ctx.ReplyNotice("No help available for " + name)
		}
		return nil
	}

	var names []string
	for _, name := range c.bus.Commands() {
		restricted := false
		for _, info := range c.bus.CommandInfo(name) {
			restricted = restricted || info.Privileged
		}
		switch {
		case !restricted:
			names = append(names, c.prefix+name)
		case c.bus.Authorized(source, name):
			names = append(names, c.prefix+name+"*")
		}
	}

	ctx.ReplyNotice("Available commands: " + strings.Join(names, " "))
	ctx.ReplyNotice(fmt.Sprintf("Use %shelp <command> for details", c.prefix))
	return nil
}

func (c *Core) version(ctx *event.Context) error {
	ctx.Reply(fmt.Sprintf("neubot %s (built %s, commit %s)", irc.Version, irc.BuildDate, irc.GitCommit))
	return nil
}

func (c *Core) motd(ctx *event.Context) error {
	message, ok, err := c.store.Get("motd")
	if err != nil {
		return err
	}
	if !ok || message == "" {
		ctx.Reply("No MOTD set")
		return nil
	}
	setter, _, _ := c.store.Get("motd_setter")
	ctx.Reply(fmt.Sprintf("MOTD (set by %s): %s", setter, message))
	return nil
}

func (c *Core) setMotd(ctx *event.Context) error {
	message := ctx.Args.String()
	if message == "" {
		return &command.SyntaxError{Msg: "Usage: setmotd <message>"}
	}
	setter := ctx.Message.Nick()
	if err := c.store.Put("motd", message); err != nil {
		return err
	}
	if err := c.store.Put("motd_setter", fmt.Sprintf("%s on %s", setter, time.Now().UTC().Format(time.RFC1123))); err != nil {
		return err
	}
	ctx.Reply("MOTD updated")
	return nil
}

func (c *Core) quit(ctx *event.Context) error {
	reason := ctx.Args.String()
	if reason == "" {
		reason = "Shutting down"
	}
	c.bus.DispatchSystemEvent(event.SystemQuit, reason)
	return nil
}

func pluginArg(ctx *event.Context, verb string) (string, error) {
	name := ctx.Args.Get(0)
	if name == "" {
		return "", &command.SyntaxError{Msg: fmt.Sprintf("Must supply the name of a plugin to %s", verb)}
	}
	return name, nil
}

func (c *Core) replyPluginErr(ctx *event.Context, err error) error {
	switch {
	case errors.Is(err, ErrUnknown), errors.Is(err, ErrAlreadyLoaded), errors.Is(err, ErrNotLoaded):
		ctx.Reply(err.Error())
		return nil
	}
	ctx.Reply("Error: " + err.Error())
	return err
}

func (c *Core) load(ctx *event.Context) error {
	name, err := pluginArg(ctx, "load")
	if err != nil {
		return err
	}
	if err := c.plugins.Load(name); err != nil {
		return c.replyPluginErr(ctx, err)
	}
	ctx.Reply("Loaded " + name)
	return nil
}

func (c *Core) unload(ctx *event.Context) error {
	name, err := pluginArg(ctx, "unload")
	if err != nil {
		return err
	}
	if err := c.plugins.Unload(name); err != nil {
		return c.replyPluginErr(ctx, err)
	}
	ctx.Reply("Unloaded " + name)
	return nil
}

func (c *Core) reload(ctx *event.Context) error {
	name, err := pluginArg(ctx, "reload")
	if err != nil {
		return err
	}
	if err := c.plugins.Reload(name); err != nil {
		return c.replyPluginErr(ctx, err)
	}
	ctx.Reply("Reloaded " + name)
	return nil
}

func (c *Core) list(ctx *event.Context) error {
	ctx.Reply("Loaded: " + strings.Join(c.plugins.Loaded(), " "))
	ctx.Reply("Available: " + strings.Join(c.plugins.Available(), " "))
	return nil
}

func (c *Core) debug(ctx *event.Context) error {
	switch strings.ToLower(ctx.Args.Get(0)) {
	case "on", "enable":
		c.level.SetLevel(zapcore.DebugLevel)
		ctx.Reply("Debug logging enabled")
	case "off", "disable":
		c.level.SetLevel(zapcore.InfoLevel)
		ctx.Reply("Debug logging disabled")
	case "":
		ctx.Reply("Log level is " + c.level.Level().String())
	default:
		return &command.SyntaxError{Msg: "Usage: debug on|off"}
	}
	return nil
}

func (c *Core) join(ctx *event.Context) error {
	channel := ctx.Args.Get(0)
	if channel == "" {
		return &command.SyntaxError{Msg: "Usage: join <channel> [key]"}
	}
	ctx.Join(channel, ctx.Args.Get(1))
	return nil
}

func (c *Core) part(ctx *event.Context) error {
	channel := ctx.Args.Get(0)
	if channel == "" {
		return &command.SyntaxError{Msg: "Usage: part <channel> [reason]"}
	}
	ctx.Part(channel, ctx.Args.After(0))
	return nil
}

func (c *Core) nick(ctx *event.Context) error {
	nick := ctx.Args.Get(0)
	if nick == "" || ctx.Args.Len() > 1 {
		return &command.SyntaxError{Msg: "Usage: nick <nick>"}
	}
	ctx.SetNick(nick)
	return nil
}

func (c *Core) say(ctx *event.Context) error {
	target, text := ctx.Args.Get(0), ctx.Args.After(0)
	if target == "" || text == "" {
		return &command.SyntaxError{Msg: "Usage: say <target> <message>"}
	}
	ctx.Privmsg(target, text)
	return nil
}
