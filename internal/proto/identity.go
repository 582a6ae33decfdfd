package proto

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/ryanuber/go-glob"
)

// Identity is a peer seen on the network (nick!ident@host).
// Identities handed out by a Registry are shared: a nick change mutates the
// existing value so every channel or handler holding it sees the new nick.
type Identity struct {
	mu    sync.RWMutex
	nick  string
	ident string
	host  string
}

// NewIdentity creates a standalone identity that is not interned.
func NewIdentity(nick, ident, host string) *Identity {
	return &Identity{nick: nick, ident: ident, host: host}
}

// Nick returns the current nickname
func (id *Identity) Nick() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.nick
}

// Ident returns the user/ident part
func (id *Identity) Ident() string {
	return id.ident
}

// Host returns the hostname part
func (id *Identity) Host() string {
	return id.host
}

func (id *Identity) String() string {
	return fmt.Sprintf("%s!%s@%s", id.Nick(), id.ident, id.host)
}

// Equal compares all three fields.
func (id *Identity) Equal(other *Identity) bool {
	if id == other {
		return true
	}
	if id == nil || other == nil {
		return false
	}
	return id.Nick() == other.Nick() && id.ident == other.ident && id.host == other.host
}

// Matches reports whether the identity matches a nick!ident@host pattern.
// A malformed pattern never matches.
func (id *Identity) Matches(pattern string) bool {
	mask, err := ParseMask(pattern)
	if err != nil {
		return false
	}
	return mask.Match(id)
}

func (id *Identity) setNick(nick string) {
	id.mu.Lock()
	id.nick = nick
	id.mu.Unlock()
}

// Mask is a parsed hostmask pattern. '*' matches any run of characters,
// everything else (including '.') is literal. Each field must match whole.
type Mask struct {
	pattern string
	nick    string
	ident   string
	host    string
}

// ParseMask splits a nick!ident@host pattern.
func ParseMask(pattern string) (*Mask, error) {
	nick, rest, ok := strings.Cut(pattern, "!")
	if !ok {
		return nil, fmt.Errorf("illegal hostmask %q", pattern)
	}
	ident, host, ok := strings.Cut(rest, "@")
	if !ok || nick == "" || ident == "" || host == "" {
		return nil, fmt.Errorf("illegal hostmask %q", pattern)
	}
	return &Mask{pattern: pattern, nick: nick, ident: ident, host: host}, nil
}

// Match requires all three fields to match.
func (m *Mask) Match(id *Identity) bool {
	if id == nil {
		return false
	}
	return glob.Glob(m.nick, id.Nick()) &&
		glob.Glob(m.ident, id.ident) &&
		glob.Glob(m.host, id.host)
}

func (m *Mask) String() string {
	return m.pattern
}

type userKey struct {
	nick, ident, host string
}

// Registry interns identities so that one peer is one *Identity.
type Registry struct {
	mu    sync.Mutex
	users map[userKey]*Identity
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{users: make(map[userKey]*Identity)}
}

// Resolve returns the interned identity for a nick!ident@host string,
// creating it on first sight.
func (r *Registry) Resolve(hostmask string) (*Identity, error) {
	nuh, err := ircmsg.ParseNUH(hostmask)
	if err != nil {
		return nil, fmt.Errorf("bad hostmask %q: %w", hostmask, err)
	}
	if nuh.Name == "" || nuh.User == "" || nuh.Host == "" {
		return nil, fmt.Errorf("bad hostmask %q", hostmask)
	}

	key := userKey{nuh.Name, nuh.User, nuh.Host}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.users[key]; ok {
		return id, nil
	}
	id := NewIdentity(nuh.Name, nuh.User, nuh.Host)
	r.users[key] = id
	return id, nil
}

// Lookup finds an interned identity by nick.
func (r *Registry) Lookup(nick string) *Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, id := range r.users {
		if key.nick == nick {
			return id
		}
	}
	return nil
}

// Remove forgets an identity. Holders keep their reference.
func (r *Registry) Remove(id *Identity) {
	if id == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := userKey{id.Nick(), id.ident, id.host}
	if r.users[key] == id {
		delete(r.users, key)
	}
}

// UpdateNick renames id in place and re-keys it.
func (r *Registry) UpdateNick(id *Identity, nick string) {
	if id == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old := userKey{id.Nick(), id.ident, id.host}
	if r.users[old] == id {
		delete(r.users, old)
	}
	id.setNick(nick)
	r.users[userKey{nick, id.ident, id.host}] = id
}

// Len returns the number of interned identities
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
