package agent

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile customises one of the catalog agents.
type Profile struct {
	Name         string         `yaml:"name"`
	Agent        string         `yaml:"agent"`
	Model        string         `yaml:"model"`
	Temperature  *float64       `yaml:"temperature"`
	SystemPrompt string         `yaml:"system_prompt"`
	Tools        []string       `yaml:"tools"`
	MaxIter      int            `yaml:"max_iterations"`
	Configurable map[string]any `yaml:"configurable"`
}

// LoadProfile reads an agent profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if p.Agent == "" {
		p.Agent = DefaultAgentID
	}
	if _, ok := Lookup(p.Agent); !ok {
		return nil, fmt.Errorf("profile %s: unknown agent %q", path, p.Agent)
	}
	return &p, nil
}

// FindProfile resolves name to a file: a path as given, or <dir>/<name>.yaml
// or .yml.
func FindProfile(dir, name string) (*Profile, error) {
	candidates := []string{name}
	if dir != "" {
		candidates = append(candidates,
			filepath.Join(dir, name+".yaml"),
			filepath.Join(dir, name+".yml"),
		)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return LoadProfile(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("profile %q not found in %s", name, dir)
}

// BuildOptions returns the graph options the profile implies.
func (p *Profile) BuildOptions() BuildOptions {
	return BuildOptions{SystemPrompt: p.SystemPrompt, AllowedTools: p.Tools}
}

// RunConfig returns the configurable values for runs of this profile. Model
// and temperature are mapped onto the agent's own keys.
func (p *Profile) RunConfig() map[string]any {
	cfg := make(map[string]any, len(p.Configurable)+2)
	maps.Copy(cfg, p.Configurable)
	if p.Model != "" {
		cfg[ModelKey(p.Agent)] = p.Model
	}
	if p.Temperature != nil {
		cfg["temperature"] = *p.Temperature
	}
	return cfg
}
