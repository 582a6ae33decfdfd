package acl

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dalnet/neubot/internal/proto"
)

func openStore(t *testing.T, masters ...string) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "acl.db"), masters, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMastersPassEverything(t *testing.T) {
	s := openStore(t, "*!*@admin.example.com")

	admin := proto.NewIdentity("Boss", "boss", "admin.example.com")
	other := proto.NewIdentity("Boss", "boss", "elsewhere.example.com")

	assert.True(t, s.IsAuthorized(admin, "quit"))
	assert.True(t, s.IsAuthorized(admin, "anything"))
	assert.False(t, s.IsAuthorized(other, "quit"))
	assert.False(t, s.IsAuthorized(nil, "quit"))
	assert.Equal(t, []string{"*!*@admin.example.com"}, s.Masters())
}

func TestAllowRevoke(t *testing.T) {
	s := openStore(t)
	alice := proto.NewIdentity("Alice", "al", "alice.example.com")

	assert.False(t, s.IsAuthorized(alice, "load"))

	require.NoError(t, s.Allow("load", "Alice!*@*.example.com"))
	require.NoError(t, s.Allow("load", "Alice!*@*.example.com"))
	assert.True(t, s.IsAuthorized(alice, "load"))
	assert.False(t, s.IsAuthorized(alice, "quit"))

	grants, err := s.Grants("load")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice!*@*.example.com"}, grants)

	removed, err := s.Revoke("load", "Alice!*@*.example.com")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.IsAuthorized(alice, "load"))

	removed, err = s.Revoke("load", "Alice!*@*.example.com")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestWildcardContext(t *testing.T) {
	s := openStore(t)
	bob := proto.NewIdentity("Bob", "bob", "bob.host")

	require.NoError(t, s.Allow(AnyContext, "Bob!bob@bob.host"))
	assert.True(t, s.IsAuthorized(bob, "quit"))
	assert.True(t, s.IsAuthorized(bob, "acl"))
}

func TestAllowValidates(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Allow("load", "not-a-mask"))
	assert.Error(t, s.Allow("", "*!*@*"))

	_, err := Open(filepath.Join(t.TempDir(), "acl.db"), []string{"broken"}, nil)
	assert.Error(t, err)
}

func TestGrantsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acl.db")
	s, err := Open(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Allow("quit", "*!*@trusted"))
	require.NoError(t, s.Close())

	s, err = Open(path, nil, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.IsAuthorized(proto.NewIdentity("x", "y", "trusted"), "quit"))
}
