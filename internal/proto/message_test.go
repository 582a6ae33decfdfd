package proto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		origin      string
		command     string
		destination string
		params      string
		nick        string
	}{
		{
			name:        "privmsg to channel",
			line:        ":MrSim!sim@sim.example PRIVMSG #chan :hello there",
			origin:      "MrSim!sim@sim.example",
			command:     "PRIVMSG",
			destination: "#chan",
			params:      "hello there",
			nick:        "MrSim",
		},
		{
			name:        "server numeric",
			line:        ":irc.example.net 001 NeuBot :Welcome to the network",
			origin:      "irc.example.net",
			command:     "001",
			destination: "NeuBot",
			params:      "Welcome to the network",
		},
		{
			name:    "quit without destination",
			line:    ":Alice!al@host QUIT :Quit: leaving now",
			origin:  "Alice!al@host",
			command: "QUIT",
			params:  "Quit: leaving now",
			nick:    "Alice",
		},
		{
			name:    "join with trailing channel",
			line:    ":Alice!al@host JOIN :#chan",
			origin:  "Alice!al@host",
			command: "JOIN",
			params:  "#chan",
			nick:    "Alice",
		},
		{
			name:        "join without colon",
			line:        ":Alice!al@host JOIN #chan",
			origin:      "Alice!al@host",
			command:     "JOIN",
			destination: "#chan",
			nick:        "Alice",
		},
		{
			name:    "ping without origin",
			line:    "PING :irc.example.net",
			command: "PING",
			params:  "irc.example.net",
		},
		{
			name:        "who reply keeps inner colon",
			line:        ":srv 352 NeuBot #chan al host srv Alice H :0 Alice A",
			origin:      "srv",
			command:     "352",
			destination: "NeuBot",
			params:      "#chan al host srv Alice H :0 Alice A",
		},
	}

	p := NewParser(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := p.Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.line, msg.Raw)
			assert.Equal(t, tt.origin, msg.Origin)
			assert.Equal(t, tt.command, msg.Command)
			assert.Equal(t, tt.destination, msg.Destination)
			assert.Equal(t, tt.params, msg.Params)
			assert.Equal(t, tt.nick, msg.Nick())
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	p := NewParser(nil)
	for _, line := range []string{"", ":onlyorigin", "no colon here at all"} {
		_, err := p.Parse(line)
		var perr *ParseError
		require.True(t, errors.As(err, &perr), "line %q", line)
		assert.Equal(t, line, perr.Line)
	}
}

func TestParseInternsOrigin(t *testing.T) {
	users := NewRegistry()
	p := NewParser(users)

	a, err := p.Parse(":Alice!al@host PRIVMSG #chan :one")
	require.NoError(t, err)
	b, err := p.Parse(":Alice!al@host PRIVMSG #chan :two")
	require.NoError(t, err)

	assert.Same(t, a.User, b.User)
	assert.Equal(t, 1, users.Len())
}

func TestMessageHelpers(t *testing.T) {
	p := NewParser(nil)

	msg, err := p.Parse(":srv 332 NeuBot #chan :the topic")
	require.NoError(t, err)
	middle, trailing := msg.Trailing()
	assert.Equal(t, "#chan", middle)
	assert.Equal(t, "the topic", trailing)
	assert.True(t, msg.IsNumeric())

	msg, err = p.Parse(":Alice!al@host NICK :Alicia")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", msg.Target())
	assert.False(t, msg.IsNumeric())
}
