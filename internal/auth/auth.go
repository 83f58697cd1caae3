package auth

import (
	"fmt"

	"github.com/cgast/dispatchd/pkg/command"
)

// Membership answers group queries for the gate. *groups.Store satisfies
// this.
type Membership interface {
	IsMemberOfAny(principal string, groups []string) bool
}

// Error reports a denied execution: the principal matched neither the
// allowed users nor any allowed group.
type Error struct {
	Principal string
	Policy    command.AccessPolicy
}

func (e *Error) Error() string {
	users := "any"
	if len(e.Policy.AllowedUsers) > 0 {
		users = fmt.Sprintf("%v", e.Policy.AllowedUsers)
	}
	groups := "any"
	if len(e.Policy.AllowedGroups) > 0 {
		groups = fmt.Sprintf("%v", e.Policy.AllowedGroups)
	}
	return fmt.Sprintf("user '%s' is not authorized to run this command (required users=%s, groups=%s)",
		e.Principal, users, groups)
}

// Gate decides whether a principal may execute a command. The decision is
// made once per request, before any event is produced.
type Gate struct {
	membership Membership
}

// NewGate creates a gate backed by the given membership source.
func NewGate(m Membership) *Gate {
	return &Gate{membership: m}
}

// Authorize returns nil when the policy permits the principal: the policy
// is unrestricted, the principal is an allowed user, or the principal
// belongs to at least one allowed group.
func (g *Gate) Authorize(principal string, policy command.AccessPolicy) error {
	if policy.Unrestricted() {
		return nil
	}
	for _, u := range policy.AllowedUsers {
		if u == principal {
			return nil
		}
	}
	if len(policy.AllowedGroups) > 0 && g.membership.IsMemberOfAny(principal, policy.AllowedGroups) {
		return nil
	}
	return &Error{Principal: principal, Policy: policy}
}
