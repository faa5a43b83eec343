package clusters

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/truefoundry/capacity-scheduler/pkg/values"
	"gopkg.in/yaml.v3"
)

var ErrUnknownCluster = errors.New("unknown cluster")

// Target tells the scaler how to reach a cluster
type Target struct {
	Name string `yaml:"name" json:"name"`
	// Context is the kubeconfig context, defaults to Name
	Context string `yaml:"context,omitempty" json:"context,omitempty"`
	// NodePool is the Karpenter NodePool whose cpu limit is patched
	NodePool string `yaml:"nodePool,omitempty" json:"nodePool,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
}

type file struct {
	Clusters []Target `yaml:"clusters"`
}

// Registry is the set of clusters the scheduler may act on
type Registry struct {
	targets map[string]Target
	// strict rejects clusters that are not listed
	strict bool
}

// NewRegistry builds a registry from targets. A registry with no targets accepts any
// cluster name and derives its target from defaults.
func NewRegistry(targets ...Target) (*Registry, error) {
	r := &Registry{targets: make(map[string]Target, len(targets)), strict: len(targets) > 0}
	for _, t := range targets {
		if t.Name == "" {
			return nil, fmt.Errorf("NewRegistry: cluster target without name")
		}
		if _, dup := r.targets[t.Name]; dup {
			return nil, fmt.Errorf("NewRegistry: duplicate cluster %q", t.Name)
		}
		r.targets[t.Name] = withDefaults(t)
	}
	return r, nil
}

// Load reads a YAML clusters file. An empty path yields a permissive registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load - read %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("Load - parse %s: %w", path, err)
	}
	return NewRegistry(f.Clusters...)
}

// Lookup returns the target for a cluster name
func (r *Registry) Lookup(name string) (Target, error) {
	if t, ok := r.targets[name]; ok {
		return t, nil
	}
	if r.strict {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownCluster, name)
	}
	return withDefaults(Target{Name: name}), nil
}

// List returns the configured targets sorted by name
func (r *Registry) List() []Target {
	out := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func withDefaults(t Target) Target {
	if t.Context == "" {
		t.Context = t.Name
	}
	if t.NodePool == "" {
		t.NodePool = values.DefaultNodePool
	}
	return t
}
