package plugin

import (
	"fmt"
	"strings"

	"github.com/dalnet/neubot/internal/acl"
	"github.com/dalnet/neubot/internal/command"
	"github.com/dalnet/neubot/internal/config"
	"github.com/dalnet/neubot/internal/event"
	"github.com/dalnet/neubot/internal/proto"
	"github.com/dalnet/neubot/internal/storage"
)

// ACLName is the owner name of the acl plugin.
const ACLName = "acl"

// ACL exposes grant management as the "acl" command.
type ACL struct {
	store *acl.Store
	tree  *command.Tree
}

// NewACL creates the acl plugin around an open store.
func NewACL(store *acl.Store) *ACL {
	return &ACL{store: store}
}

// Register implements Plugin.
func (a *ACL) Register(bus *event.Bus, _ *config.Config, _ *storage.Store) error {
	a.tree = command.New()
	routes := []struct {
		pattern string
		action  command.Action
	}{
		{"allow <context> <hostmask>", a.allow},
		{"revoke <context> <hostmask>", a.revoke},
		{"show <context>", a.show},
		{"check <context> <user>", a.check},
		{"masters", a.masters},
	}
	for _, r := range routes {
		a.tree.MustHandle(r.pattern, r.action)
	}

	bus.RegisterCommand("acl", a.handle, ACLName, event.Privileged(),
		event.Help("acl "+strings.Join(a.tree.Usage(), " | ")+" - manage command access (context * means all)"))
	return nil
}

func (a *ACL) handle(ctx *event.Context) error {
	lines, err := a.tree.Execute(ctx.Args.Slice())
	if err != nil {
		return err
	}
	for _, line := range lines {
		ctx.Reply(line)
	}
	return nil
}

func (a *ACL) allow(vars map[string]string) ([]string, error) {
	context, mask := vars["context"], vars["hostmask"]
	if err := a.store.Allow(context, mask); err != nil {
		return nil, &command.SyntaxError{Msg: err.Error()}
	}
	return []string{fmt.Sprintf("Granted %s access to %s", mask, context)}, nil
}

func (a *ACL) revoke(vars map[string]string) ([]string, error) {
	context, mask := vars["context"], vars["hostmask"]
	removed, err := a.store.Revoke(context, mask)
	if err != nil {
		return nil, err
	}
	if !removed {
		return []string{fmt.Sprintf("%s had no access to %s", mask, context)}, nil
	}
	return []string{fmt.Sprintf("Revoked %s access to %s", mask, context)}, nil
}

func (a *ACL) show(vars map[string]string) ([]string, error) {
	context := vars["context"]
	grants, err := a.store.Grants(context)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return []string{"No grants for " + context}, nil
	}
	return []string{fmt.Sprintf("%s: %s", context, strings.Join(grants, " "))}, nil
}

// check resolves a full nick!ident@host and runs the same test a command
// dispatch would.
func (a *ACL) check(vars map[string]string) ([]string, error) {
	context, user := vars["context"], vars["user"]
	id, err := proto.NewRegistry().Resolve(user)
	if err != nil {
		return nil, &command.SyntaxError{Msg: "Expected nick!ident@host, got " + user}
	}
	if a.store.IsAuthorized(id, context) {
		return []string{fmt.Sprintf("%s may use %s", user, context)}, nil
	}
	return []string{fmt.Sprintf("%s may not use %s", user, context)}, nil
}

func (a *ACL) masters(map[string]string) ([]string, error) {
	m := a.store.Masters()
	if len(m) == 0 {
		return []string{"No masters configured"}, nil
	}
	return []string{"Masters: " + strings.Join(m, " ")}, nil
}
