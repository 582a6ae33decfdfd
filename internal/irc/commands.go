package irc

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dalnet/neubot/internal/proto"
)

var lineBreaks = strings.NewReplacer("\r", "", "\n", "")

// SendRaw queues a protocol line. CR and LF are stripped so one call can
// only ever produce one line. Lines sent while disconnected are dropped.
func (c *Connection) SendRaw(line string, priority int) {
	line = lineBreaks.Replace(line)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		c.log.Debug("not connected, dropping line", zap.String("line", line))
		return
	}
	c.queue.Enqueue([]byte(line+"\r\n"), priority)
}

// Privmsg sends a message to a nick or channel
func (c *Connection) Privmsg(target, text string) {
	c.SendRaw(fmt.Sprintf("PRIVMSG %s :%s", target, text), PriorityDefault)
}

// Notice sends a notice to a nick or channel
func (c *Connection) Notice(target, text string) {
	c.SendRaw(fmt.Sprintf("NOTICE %s :%s", target, text), PriorityDefault)
}

// Join tracks channel and joins it in the background. Nothing is sent
// before registration; tracked channels are joined once Ready. A rejected
// or unanswered join is retried after rejoin_channel_time.
func (c *Connection) Join(channel, key string) {
	ch := c.AddChannel(channel, key)
	if ch.Joined() || c.State() != StateReady {
		return
	}

	c.mu.Lock()
	sess := c.sess
	if sess == nil || c.joining[channel] {
		c.mu.Unlock()
		return
	}
	c.joining[channel] = true
	c.mu.Unlock()

	c.bus.Go(c.owner, "JOIN "+channel, func() error {
		ok := c.JoinWait(sess.ctx, channel, ch.Key())

		c.mu.Lock()
		delete(c.joining, channel)
		current := c.sess == sess
		c.mu.Unlock()

		if !ok && current {
			c.log.Warn("join failed", zap.String("channel", channel))
			c.scheduleRejoin(channel)
		}
		return nil
	})
}

// JoinWait sends JOIN and waits for the server to accept or reject it.
func (c *Connection) JoinWait(ctx context.Context, channel, key string) bool {
	line := "JOIN " + channel
	if key != "" {
		line += " " + key
	}
	return SendAndWait(ctx, c.bus, c, SyncRequest{
		Line:    line,
		Success: proto.JoinSuccess,
		Failure: proto.JoinFailure,
		Timeout: c.tun.JoinTimeout,
		Match:   replyFor(channel),
		Log:     c.log.With(zap.String("channel", channel)),
	})
}

// replyFor accepts numerics about channel, plus 461 which names the
// command instead.
func replyFor(channel string) func(*proto.Message) bool {
	return func(msg *proto.Message) bool {
		middle, _ := msg.Trailing()
		first, _, _ := strings.Cut(middle, " ")
		return first == channel || first == "JOIN"
	}
}

// Part leaves a channel and stops tracking it.
func (c *Connection) Part(channel, reason string) {
	c.RemoveChannel(channel)
	if reason == "" {
		c.SendRaw("PART "+channel, PriorityDefault)
		return
	}
	c.SendRaw(fmt.Sprintf("PART %s :%s", channel, reason), PriorityDefault)
}

// Quit asks the server to close the session. It jumps the queue.
func (c *Connection) Quit(reason string) {
	c.autoReconnect.Store(false)
	if reason == "" {
		c.SendRaw("QUIT", PriorityControl)
		return
	}
	c.SendRaw("QUIT :"+reason, PriorityControl)
}

// SetNick requests a nick change. The confirmed nick changes when the
// server echoes NICK back, or on registration.
func (c *Connection) SetNick(nick string) {
	c.mu.Lock()
	c.pendingNick = nick
	c.mu.Unlock()
	c.SendRaw("NICK "+nick, PriorityElevated)
}

// SetTopic changes a channel topic
func (c *Connection) SetTopic(channel, topic string) {
	c.SendRaw(fmt.Sprintf("TOPIC %s :%s", channel, topic), PriorityElevated)
}

// Ping sends a keepalive probe
func (c *Connection) Ping(token string) {
	if token == "" {
		c.SendRaw("PING *", PriorityControl)
		return
	}
	c.SendRaw("PING :"+token, PriorityControl)
}

// Pong answers a server PING
func (c *Connection) Pong(token string) {
	if token == "" {
		c.SendRaw("PONG *", PriorityControl)
		return
	}
	c.SendRaw("PONG :"+token, PriorityControl)
}
