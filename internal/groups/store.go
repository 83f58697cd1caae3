package groups

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cgast/dispatchd/pkg/events"
)

// Groups every deployment gets, present even when the file omits them.
var defaultGroups = []string{"admin", "system", "users"}

// ConfigError reports a groups file that could not be read or parsed.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("groups config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// groupsFile is the on-disk YAML shape.
type groupsFile struct {
	Groups map[string][]string `yaml:"groups"`
}

// Store answers membership queries against an immutable snapshot that is
// swapped wholesale on reload or edit. The YAML file is the bootstrap
// source; an optional bbolt overlay carries runtime edits across restarts
// and wins over the file for the groups it covers.
type Store struct {
	mu      sync.RWMutex
	path    string
	members map[string]map[string]bool // group -> principals
	overlay *Overlay
	bus     events.EventBus
}

// NewStore creates a store reading from the YAML file at path. Call Load
// before first use.
func NewStore(path string) *Store {
	return &Store{
		path:    path,
		members: make(map[string]map[string]bool),
	}
}

// SetOverlay attaches a persistence overlay for runtime edits.
func (s *Store) SetOverlay(o *Overlay) {
	s.overlay = o
}

// SetBus attaches an event bus for membership change notifications.
func (s *Store) SetBus(bus events.EventBus) {
	s.bus = bus
}

// Path returns the YAML file the store reads from.
func (s *Store) Path() string {
	return s.path
}

// Load reads the YAML file, applies the overlay and swaps the snapshot.
// A missing or malformed file is a *ConfigError and leaves the previous
// snapshot in place.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return &ConfigError{Path: s.path, Err: err}
	}

	var file groupsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return &ConfigError{Path: s.path, Err: err}
	}

	next := make(map[string]map[string]bool, len(file.Groups)+len(defaultGroups))
	for _, group := range defaultGroups {
		next[group] = make(map[string]bool)
	}
	for group, principals := range file.Groups {
		set := make(map[string]bool, len(principals))
		for _, p := range principals {
			set[p] = true
		}
		next[group] = set
	}

	if s.overlay != nil {
		edited, err := s.overlay.Groups()
		if err != nil {
			return fmt.Errorf("load membership overlay: %w", err)
		}
		for group, principals := range edited {
			set := make(map[string]bool, len(principals))
			for _, p := range principals {
				set[p] = true
			}
			next[group] = set
		}
	}

	s.mu.Lock()
	s.members = next
	s.mu.Unlock()

	s.publish(events.Event{Type: events.EventGroupsReloaded, Data: s.path})
	return nil
}

// GroupsOf returns the sorted groups the principal belongs to.
func (s *Store) GroupsOf(principal string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for group, set := range s.members {
		if set[principal] {
			result = append(result, group)
		}
	}
	sort.Strings(result)
	return result
}

// IsMember reports whether the principal belongs to the group.
func (s *Store) IsMember(principal, group string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.members[group][principal]
}

// IsMemberOfAny reports whether the principal belongs to at least one of
// the groups.
func (s *Store) IsMemberOfAny(principal string, groups []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, group := range groups {
		if s.members[group][principal] {
			return true
		}
	}
	return false
}

// Groups returns a snapshot of all groups with sorted member lists.
func (s *Store) Groups() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]string, len(s.members))
	for group, set := range s.members {
		members := make([]string, 0, len(set))
		for p := range set {
			members = append(members, p)
		}
		sort.Strings(members)
		result[group] = members
	}
	return result
}

// AddMember puts the principal into the group, creating the group if it
// does not exist, and persists the edit through the overlay. The persist
// happens before the snapshot changes; a failed persist leaves membership
// exactly as it was.
func (s *Store) AddMember(principal, group string) error {
	s.mu.Lock()
	next := make(map[string]bool, len(s.members[group])+1)
	for p := range s.members[group] {
		next[p] = true
	}
	next[principal] = true

	if err := s.persist(group, sortedKeys(next)); err != nil {
		s.mu.Unlock()
		return err
	}
	s.members[group] = next
	s.mu.Unlock()

	s.publish(events.Event{Type: events.EventMemberAdded, Principal: principal, Data: group})
	return nil
}

// RemoveMember takes the principal out of the group. Removing an absent
// member is a no-op, as is an unknown group. Like AddMember, the snapshot
// only changes once the overlay write has succeeded.
func (s *Store) RemoveMember(principal, group string) error {
	s.mu.Lock()
	set, ok := s.members[group]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	next := make(map[string]bool, len(set))
	for p := range set {
		if p != principal {
			next[p] = true
		}
	}

	if err := s.persist(group, sortedKeys(next)); err != nil {
		s.mu.Unlock()
		return err
	}
	s.members[group] = next
	s.mu.Unlock()

	s.publish(events.Event{Type: events.EventMemberRemoved, Principal: principal, Data: group})
	return nil
}

func (s *Store) persist(group string, members []string) error {
	if s.overlay == nil {
		return nil
	}
	return s.overlay.SaveGroup(group, members)
}

func (s *Store) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
