package proto

import (
	"fmt"
	"regexp"
	"strings"
)

// Message is one parsed line received from the server.
type Message struct {
	// Raw is the line exactly as received, without CRLF.
	Raw string
	// Origin is the prefix without the leading ':' (server name or hostmask).
	Origin string
	// User is set when Origin is a nick!ident@host hostmask.
	User *Identity
	// Command is the verb or three digit numeric.
	Command string
	// Destination is the first middle parameter, when present.
	Destination string
	// Params is the remaining text with the trailing ':' marker removed.
	Params string
}

// ParseError is returned for lines matching none of the known shapes.
type ParseError struct {
	Line string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized line %q", e.Line)
}

// A token starting with ':' is trailing text, never a command or destination.
var (
	withDestination = regexp.MustCompile(`^:(\S+) ([^:\s]\S*) ([^:\s]\S*) ?:?(.*)$`)
	withOrigin      = regexp.MustCompile(`^:(\S+) ([^:\s]\S*) ?:?(.*)$`)
	withoutOrigin   = regexp.MustCompile(`^([A-Za-z]+|[0-9]{3}) :(.*)$`)
)

// Parser turns raw lines into Messages, interning hostmask origins.
type Parser struct {
	users *Registry
}

// NewParser creates a parser. A nil registry gets a private one.
func NewParser(users *Registry) *Parser {
	if users == nil {
		users = NewRegistry()
	}
	return &Parser{users: users}
}

// Users returns the registry backing this parser
func (p *Parser) Users() *Registry {
	return p.users
}

// Parse decodes a single line with its terminator already stripped.
func (p *Parser) Parse(line string) (*Message, error) {
	msg := &Message{Raw: line}

	if m := withDestination.FindStringSubmatch(line); m != nil {
		msg.Origin, msg.Command, msg.Destination, msg.Params = m[1], m[2], m[3], m[4]
	} else if m := withOrigin.FindStringSubmatch(line); m != nil {
		msg.Origin, msg.Command, msg.Params = m[1], m[2], m[3]
	} else if m := withoutOrigin.FindStringSubmatch(line); m != nil {
		msg.Command, msg.Params = m[1], m[2]
	} else {
		return nil, &ParseError{Line: line}
	}

	msg.Command = strings.ToUpper(msg.Command)
	if strings.Contains(msg.Origin, "!") && strings.Contains(msg.Origin, "@") {
		if id, err := p.users.Resolve(msg.Origin); err == nil {
			msg.User = id
		}
	}
	return msg, nil
}

// Nick returns the sender's nick, or "" for server messages.
func (m *Message) Nick() string {
	if m.User == nil {
		return ""
	}
	return m.User.Nick()
}

// Target is the destination, or the first word of Params when the line
// had none (JOIN :#chan, NICK :new).
func (m *Message) Target() string {
	if m.Destination != "" {
		return m.Destination
	}
	first, _, _ := strings.Cut(m.Params, " ")
	return first
}

// Trailing splits Params at the first " :" marker. Numeric replies such as
// "#chan :topic text" come out as ("#chan", "topic text").
func (m *Message) Trailing() (middle, trailing string) {
	if i := strings.Index(m.Params, " :"); i >= 0 {
		return m.Params[:i], m.Params[i+2:]
	}
	return m.Params, ""
}

// IsNumeric reports whether Command is a three digit reply code.
func (m *Message) IsNumeric() bool {
	if len(m.Command) != 3 {
		return false
	}
	for _, r := range m.Command {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (m *Message) String() string {
	return m.Raw
}
