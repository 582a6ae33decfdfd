package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", []string{}},
		{"allow quit *!*@*", []string{"allow", "quit", "*!*@*"}},
		{`say "hello world" now`, []string{"say", "hello world", "now"}},
		{`it's\ fine`, nil},
		{`it\'s\ fine`, []string{"it's fine"}},
		{`'a "b" c'`, []string{`a "b" c`}},
		{"  spaced   out  ", []string{"spaced", "out"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			args := ParseArgs(tt.raw)
			if tt.want == nil {
				assert.Equal(t, 0, args.Len())
				return
			}
			assert.Equal(t, tt.want, args.Slice())
		})
	}
}

func TestArgsUnbalancedKeepsRaw(t *testing.T) {
	args := ParseArgs(`say "oops`)
	assert.Equal(t, 0, args.Len())
	assert.Equal(t, `say "oops`, args.String())
	assert.Equal(t, "", args.Get(0))
}

func TestArgsAfter(t *testing.T) {
	args := ParseArgs("say #chan hello   big world")
	assert.Equal(t, "hello   big world", args.After(1))
	assert.Equal(t, "#chan hello   big world", args.After(0))
	assert.Equal(t, "", args.After(4))
	assert.Equal(t, "", args.After(-1))
}
