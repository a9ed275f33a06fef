package features

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownFeatureKey is returned for keys absent from the graph.
	ErrUnknownFeatureKey = errors.New("unknown feature key")
	// ErrCyclicDependency is returned by NewGraph when prerequisites loop.
	ErrCyclicDependency = errors.New("cyclic feature dependency")
)

// Graph is an immutable prerequisite graph over feature keys. Closures are
// computed once at construction so lookups never traverse.
type Graph struct {
	deps     map[string][]string
	closures map[string][]string
	keys     []string
}

// NewGraph validates the definitions and builds the graph. Every prerequisite
// must itself be defined and the graph must be acyclic.
func NewGraph(definitions map[string][]string) (*Graph, error) {
	deps := make(map[string][]string, len(definitions))
	for key, prereqs := range definitions {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, errors.New("feature key must not be empty")
		}
		deps[key] = uniqueSorted(prereqs)
	}
	for key, prereqs := range deps {
		for _, dep := range prereqs {
			if dep == key {
				return nil, fmt.Errorf("%w: %s requires itself", ErrCyclicDependency, key)
			}
			if _, ok := deps[dep]; !ok {
				return nil, fmt.Errorf("%w: %q required by %q", ErrUnknownFeatureKey, dep, key)
			}
		}
	}

	keys := make([]string, 0, len(deps))
	for key := range deps {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	g := &Graph{deps: deps, keys: keys, closures: make(map[string][]string, len(deps))}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	for _, key := range keys {
		g.closures[key] = g.collect(key)
	}
	return g, nil
}

const (
	unvisited = iota
	visiting
	done
)

func (g *Graph) checkAcyclic() error {
	state := make(map[string]int, len(g.deps))
	var path []string
	var visit func(string) error
	visit = func(key string) error {
		switch state[key] {
		case visiting:
			return fmt.Errorf("%w: %s -> %s", ErrCyclicDependency, strings.Join(path, " -> "), key)
		case done:
			return nil
		}
		state[key] = visiting
		path = append(path, key)
		for _, dep := range g.deps[key] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[key] = done
		return nil
	}
	for _, key := range g.keys {
		if err := visit(key); err != nil {
			return err
		}
	}
	return nil
}

// collect walks prerequisites depth-first; only called on a validated DAG.
func (g *Graph) collect(key string) []string {
	seen := map[string]struct{}{}
	var walk func(string)
	walk = func(k string) {
		for _, dep := range g.deps[k] {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			walk(dep)
		}
	}
	walk(key)
	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// Has reports whether key is defined.
func (g *Graph) Has(key string) bool {
	_, ok := g.deps[key]
	return ok
}

// Keys returns every defined feature key in lexical order.
func (g *Graph) Keys() []string {
	return append([]string(nil), g.keys...)
}

// DependenciesOf returns the direct prerequisites of key.
func (g *Graph) DependenciesOf(key string) ([]string, error) {
	deps, ok := g.deps[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeatureKey, key)
	}
	return append([]string{}, deps...), nil
}

// TransitiveClosure returns every prerequisite reachable from key, excluding
// key itself, sorted.
func (g *Graph) TransitiveClosure(key string) ([]string, error) {
	closure, ok := g.closures[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeatureKey, key)
	}
	return append([]string{}, closure...), nil
}

func uniqueSorted(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
