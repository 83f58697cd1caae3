package auth

import (
	"strings"
	"testing"

	"github.com/cgast/dispatchd/pkg/command"
)

// fakeMembership is a canned group lookup.
type fakeMembership struct {
	groups map[string][]string // principal -> groups
}

func (f *fakeMembership) IsMemberOfAny(principal string, groups []string) bool {
	for _, have := range f.groups[principal] {
		for _, want := range groups {
			if have == want {
				return true
			}
		}
	}
	return false
}

func TestGateAuthorize(t *testing.T) {
	membership := &fakeMembership{groups: map[string][]string{
		"alice": {"users"},
		"root":  {"admin"},
	}}
	gate := NewGate(membership)

	tests := []struct {
		name      string
		principal string
		policy    command.AccessPolicy
		wantAllow bool
	}{
		{
			name:      "unrestricted policy permits anyone",
			principal: "stranger",
			policy:    command.AccessPolicy{},
			wantAllow: true,
		},
		{
			name:      "allowed user matches",
			principal: "bob",
			policy:    command.AccessPolicy{AllowedUsers: []string{"bob"}},
			wantAllow: true,
		},
		{
			name:      "group membership matches",
			principal: "alice",
			policy:    command.AccessPolicy{AllowedGroups: []string{"users"}},
			wantAllow: true,
		},
		{
			name:      "group intersection with multiple allowed groups",
			principal: "root",
			policy:    command.AccessPolicy{AllowedGroups: []string{"admin", "system"}},
			wantAllow: true,
		},
		{
			name:      "no user or group match",
			principal: "alice",
			policy:    command.AccessPolicy{AllowedGroups: []string{"admin", "system"}},
			wantAllow: false,
		},
		{
			name:      "unknown principal denied",
			principal: "stranger",
			policy:    command.AccessPolicy{AllowedUsers: []string{"bob"}, AllowedGroups: []string{"users"}},
			wantAllow: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.Authorize(tt.principal, tt.policy)
			if tt.wantAllow && err != nil {
				t.Errorf("expected permit, got %v", err)
			}
			if !tt.wantAllow && err == nil {
				t.Error("expected denial")
			}
		})
	}
}

func TestGateDenialMessage(t *testing.T) {
	gate := NewGate(&fakeMembership{})
	err := gate.Authorize("mallory", command.AccessPolicy{
		AllowedGroups: []string{"admin", "system"},
	})
	if err == nil {
		t.Fatal("expected denial")
	}

	msg := err.Error()
	for _, want := range []string{"mallory", "not authorized", "admin", "system", "users=any"} {
		if !strings.Contains(msg, want) {
			t.Errorf("denial message missing %q: %s", want, msg)
		}
	}
}
