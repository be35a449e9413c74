package tools

import (
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ServerSet is an insertion-ordered mapping of server name to config.
// The order is the merge order of the tool pool.
type ServerSet struct {
	m *orderedmap.OrderedMap[string, ServerConfig]
}

// NewServerSet creates an empty set.
func NewServerSet() *ServerSet {
	return &ServerSet{m: orderedmap.New[string, ServerConfig]()}
}

// Set adds or replaces a server. Replacing keeps the original position.
func (s *ServerSet) Set(name string, cfg ServerConfig) {
	cfg.Name = name
	s.m.Set(name, cfg)
}

// Get returns the config for name.
func (s *ServerSet) Get(name string) (ServerConfig, bool) {
	return s.m.Get(name)
}

// Len returns the number of servers.
func (s *ServerSet) Len() int {
	if s == nil {
		return 0
	}
	return s.m.Len()
}

// Names returns server names in insertion order.
func (s *ServerSet) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, s.m.Len())
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Enabled returns a new set holding only enabled servers, order preserved.
func (s *ServerSet) Enabled() *ServerSet {
	out := NewServerSet()
	if s == nil {
		return out
	}
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Enabled {
			out.Set(pair.Key, pair.Value)
		}
	}
	return out
}

// Merge overlays extra onto the set. Existing names are replaced in place;
// new names are appended sorted by name so the result is deterministic.
func (s *ServerSet) Merge(extra map[string]ServerConfig) {
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.Set(name, extra[name])
	}
}

// DefaultsConfig carries the environment-derived knobs of the built-in servers.
type DefaultsConfig struct {
	FilesystemEnabled  bool
	FilesystemPath     string
	BraveSearchEnabled bool
	BraveAPIKey        string
}

// DefaultServers returns the built-in servers: filesystem, then brave_search.
func DefaultServers(d DefaultsConfig) *ServerSet {
	path := d.FilesystemPath
	if path == "" {
		path = "/tmp"
	}

	s := NewServerSet()
	s.Set("filesystem", ServerConfig{
		Transport: TransportStdio,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-filesystem", path},
		Enabled:   d.FilesystemEnabled,
	})
	s.Set("brave_search", ServerConfig{
		Transport: TransportStdio,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-brave-search"},
		Env:       map[string]string{"BRAVE_API_KEY": d.BraveAPIKey},
		Enabled:   d.BraveSearchEnabled,
	})
	return s
}
