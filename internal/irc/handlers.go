package irc

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dalnet/neubot/internal/event"
	"github.com/dalnet/neubot/internal/proto"
)

// on registers a protocol handler that only sees this connection's traffic.
func (c *Connection) on(name string, fn func(*proto.Message) error) {
	c.bus.RegisterEvent(name, func(ec *event.Context) error {
		if ec.Client != event.Client(c) {
			return nil
		}
		return fn(ec.Message)
	}, c.owner)
}

func (c *Connection) registerHandlers() {
	// Keepalive
	c.on("PING", c.onPing)
	c.on("PONG", c.onPong)

	// Registration
	c.on(proto.RPL_WELCOME, c.onWelcome)
	c.on(proto.ERR_NICKNAMEINUSE, c.onNickInUse)

	// Channel and user tracking
	c.on("JOIN", c.onJoin)
	c.on("PART", c.onPart)
	c.on("KICK", c.onKick)
	c.on("QUIT", c.onQuit)
	c.on("NICK", c.onNick)
	c.on("TOPIC", c.onTopic)
	c.on(proto.RPL_TOPIC, c.onTopicReply)
	c.on(proto.RPL_NOTOPIC, c.onNoTopic)
	c.on(proto.RPL_WHOREPLY, c.onWhoReply)
	c.on(proto.RPL_ENDOFWHO, c.onEndOfWho)
	c.on(proto.RPL_NAMREPLY, c.onNames)

	// CTCP
	c.on("PRIVMSG", c.onCTCP)

	c.on("ERROR", c.onError)
}

func (c *Connection) onPing(msg *proto.Message) error {
	c.touch()
	c.Pong(msg.Params)
	return nil
}

func (c *Connection) onPong(msg *proto.Message) error {
	c.touch()
	return nil
}

func (c *Connection) onWelcome(msg *proto.Message) error {
	c.mu.Lock()
	c.nick = c.pendingNick
	if c.nick == "" {
		c.nick = msg.Destination
	}
	nick := c.nick
	reclaim := nick != c.net.Nick && c.tun.Reclaim() && !c.reclaimScheduled
	if reclaim {
		c.reclaimScheduled = true
	}
	c.mu.Unlock()

	c.touch()
	c.setState(StateReady)
	c.log.Info("registered", zap.String("nick", nick))

	if c.net.NickPass != "" && nick == c.net.Nick {
		c.Privmsg("NickServ", "IDENTIFY "+c.net.NickPass)
	}
	c.joinAll()
	if reclaim {
		c.scheduleReclaim()
	}
	return nil
}

func (c *Connection) onNickInUse(msg *proto.Message) error {
	c.mu.Lock()
	if c.nick != "" {
		c.mu.Unlock()
		c.log.Info("nick change refused, already in use", zap.String("params", msg.Params))
		return nil
	}
	next := c.nextNickLocked()
	c.mu.Unlock()

	c.log.Info("nick in use during registration", zap.String("trying", next))
	c.SetNick(next)
	return nil
}

func (c *Connection) isSelf(id *proto.Identity) bool {
	return id != nil && id.Nick() == c.Nick()
}

func (c *Connection) onJoin(msg *proto.Message) error {
	if msg.User == nil {
		return nil
	}
	name := msg.Target()

	ch, ok := c.Channel(name)
	if !ok {
		c.log.Warn("JOIN for untracked channel, tracking it", zap.String("channel", name))
		ch = c.AddChannel(name, "")
	}

	if c.isSelf(msg.User) {
		ch.setJoined(true)
		ch.add(msg.User)
		c.log.Info("joined channel", zap.String("channel", name))
		c.SendRaw("WHO "+name, PriorityDefault)
		return nil
	}
	ch.add(msg.User)
	return nil
}

func (c *Connection) onPart(msg *proto.Message) error {
	ch, ok := c.Channel(msg.Target())
	if !ok || msg.User == nil {
		return nil
	}
	if c.isSelf(msg.User) {
		ch.setJoined(false)
		return nil
	}
	ch.remove(msg.User)
	return nil
}

func (c *Connection) onKick(msg *proto.Message) error {
	ch, ok := c.Channel(msg.Destination)
	if !ok {
		return nil
	}
	victim, reason := msg.Trailing()
	victim, _, _ = strings.Cut(victim, " ")

	if victim == c.Nick() {
		ch.setJoined(false)
		c.log.Warn("kicked from channel",
			zap.String("channel", ch.Name()),
			zap.String("by", msg.Nick()),
			zap.String("reason", reason))
		c.scheduleRejoin(ch.Name())
		return nil
	}
	if id := ch.Member(victim); id != nil {
		ch.remove(id)
	}
	return nil
}

func (c *Connection) onQuit(msg *proto.Message) error {
	if msg.User == nil {
		return nil
	}
	for _, ch := range c.Channels() {
		ch.remove(msg.User)
	}
	c.users.Remove(msg.User)
	return nil
}

func (c *Connection) onNick(msg *proto.Message) error {
	if msg.User == nil {
		return nil
	}
	newNick := msg.Target()
	if newNick == "" {
		return nil
	}
	old := msg.User.Nick()
	c.users.UpdateNick(msg.User, newNick)

	c.mu.Lock()
	self := c.nick == old
	if self {
		c.nick = newNick
	}
	c.mu.Unlock()

	if self {
		c.log.Info("nick changed", zap.String("from", old), zap.String("to", newNick))
	}
	return nil
}

func (c *Connection) onTopic(msg *proto.Message) error {
	if ch, ok := c.Channel(msg.Destination); ok {
		ch.setTopic(msg.Params)
	}
	return nil
}

// 332 <me> <channel> :<topic>
func (c *Connection) onTopicReply(msg *proto.Message) error {
	name, topic := msg.Trailing()
	if ch, ok := c.Channel(name); ok {
		ch.setTopic(topic)
	}
	return nil
}

// 331 <me> <channel> :No topic is set
func (c *Connection) onNoTopic(msg *proto.Message) error {
	name, _ := msg.Trailing()
	if ch, ok := c.Channel(name); ok {
		ch.setTopic("")
	}
	return nil
}

// 352 <me> <channel> <ident> <host> <server> <nick> <flags> :<hops> <real name>
func (c *Connection) onWhoReply(msg *proto.Message) error {
	fields := strings.Fields(msg.Params)
	if len(fields) < 5 {
		return fmt.Errorf("short WHO reply %q", msg.Raw)
	}
	ch, ok := c.Channel(fields[0])
	if !ok {
		return nil
	}
	id, err := c.users.Resolve(fields[4] + "!" + fields[1] + "@" + fields[2])
	if err != nil {
		return err
	}
	ch.add(id)
	return nil
}

// 315 <me> <channel> :End of /WHO list.
func (c *Connection) onEndOfWho(msg *proto.Message) error {
	name, _ := msg.Trailing()
	if ch, ok := c.Channel(name); ok {
		c.log.Debug("channel members synced",
			zap.String("channel", name),
			zap.Int("members", len(ch.Members())))
	}
	return nil
}

// 353 <me> <type> <channel> :[@+]nick [@+]nick ...
// NAMES carries no ident or host, so only already known identities are
// added here; the WHO reply fills in the rest.
func (c *Connection) onNames(msg *proto.Message) error {
	middle, names := msg.Trailing()
	fields := strings.Fields(middle)
	if len(fields) != 2 {
		c.log.Warn("invalid NAMES reply", zap.String("line", msg.Raw))
		return nil
	}
	ch, ok := c.Channel(fields[1])
	if !ok {
		return nil
	}
	for _, nick := range strings.Fields(names) {
		nick = strings.TrimLeft(nick, "~&@%+")
		if id := c.users.Lookup(nick); id != nil {
			ch.add(id)
		}
	}
	return nil
}

func (c *Connection) onCTCP(msg *proto.Message) error {
	text := msg.Params
	if len(text) < 2 || text[0] != '\x01' || msg.Nick() == "" {
		return nil
	}
	verb, arg, _ := strings.Cut(strings.Trim(text, "\x01"), " ")

	switch strings.ToUpper(verb) {
	case "VERSION":
		reply := fmt.Sprintf("neubot %s (built %s, commit %s)", Version, BuildDate, GitCommit)
		c.Notice(msg.Nick(), "\x01VERSION "+reply+"\x01")
	case "PING":
		c.Notice(msg.Nick(), "\x01PING "+arg+"\x01")
	}
	return nil
}

func (c *Connection) onError(msg *proto.Message) error {
	c.log.Warn("server error", zap.String("message", msg.Params))
	return nil
}
