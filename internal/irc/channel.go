package irc

import (
	"sort"
	"sync"

	"github.com/dalnet/neubot/internal/proto"
)

// Channel tracks one configured or joined channel. Names compare
// case-sensitively.
type Channel struct {
	name string

	mu      sync.RWMutex
	key     string
	joined  bool
	topic   string
	members map[*proto.Identity]struct{}
}

func newChannel(name, key string) *Channel {
	return &Channel{
		name:    name,
		key:     key,
		members: make(map[*proto.Identity]struct{}),
	}
}

// Name returns the channel name
func (ch *Channel) Name() string {
	return ch.name
}

// Key returns the join key, if any
func (ch *Channel) Key() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.key
}

// Joined reports whether the bot's own JOIN has been seen.
func (ch *Channel) Joined() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.joined
}

// Topic returns the last known topic
func (ch *Channel) Topic() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.topic
}

// Members returns the known members sorted by nick.
func (ch *Channel) Members() []*proto.Identity {
	ch.mu.RLock()
	out := make([]*proto.Identity, 0, len(ch.members))
	for id := range ch.members {
		out = append(out, id)
	}
	ch.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Nick() < out[j].Nick() })
	return out
}

// Member finds a member by nick.
func (ch *Channel) Member(nick string) *proto.Identity {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	for id := range ch.members {
		if id.Nick() == nick {
			return id
		}
	}
	return nil
}

func (ch *Channel) setKey(key string) {
	ch.mu.Lock()
	ch.key = key
	ch.mu.Unlock()
}

func (ch *Channel) setJoined(joined bool) {
	ch.mu.Lock()
	ch.joined = joined
	if !joined {
		ch.members = make(map[*proto.Identity]struct{})
	}
	ch.mu.Unlock()
}

func (ch *Channel) setTopic(topic string) {
	ch.mu.Lock()
	ch.topic = topic
	ch.mu.Unlock()
}

func (ch *Channel) add(id *proto.Identity) {
	ch.mu.Lock()
	ch.members[id] = struct{}{}
	ch.mu.Unlock()
}

func (ch *Channel) remove(id *proto.Identity) {
	ch.mu.Lock()
	delete(ch.members, id)
	ch.mu.Unlock()
}
