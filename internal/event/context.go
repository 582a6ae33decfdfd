package event

import (
	"github.com/dalnet/neubot/internal/proto"
)

// Client is the connection a message arrived on, as seen by handlers.
type Client interface {
	Network() string
	Nick() string
	SendRaw(line string, priority int)
	Privmsg(target, text string)
	Notice(target, text string)
	Join(channel, key string)
	Part(channel, reason string)
	Quit(reason string)
	SetNick(nick string)
	SetTopic(channel, topic string)
	Ping(token string)
	Pong(token string)
}

// Context is handed to every command and event handler.
type Context struct {
	Client
	Message *proto.Message
	// Command is the lowercased command word, empty for plain events.
	Command string
	Args    Args
}

// Source is the sender, nil for server messages.
func (c *Context) Source() *proto.Identity {
	return c.Message.User
}

// ReplyTarget is where a reply should go: the channel for channel messages,
// the sender for private ones.
func (c *Context) ReplyTarget() string {
	dest := c.Message.Destination
	if dest == "" || dest == c.Nick() {
		if nick := c.Message.Nick(); nick != "" {
			return nick
		}
	}
	return dest
}

// Reply sends a PRIVMSG to ReplyTarget.
func (c *Context) Reply(text string) {
	if target := c.ReplyTarget(); target != "" {
		c.Privmsg(target, text)
	}
}

// ReplyNotice sends a NOTICE to the sender.
func (c *Context) ReplyNotice(text string) {
	if nick := c.Message.Nick(); nick != "" {
		c.Notice(nick, text)
	}
}
