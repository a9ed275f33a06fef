package features

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultGraphIsValid(t *testing.T) {
	g, err := NewGraph(DefaultDefinitions())
	if err != nil {
		t.Fatalf("default graph rejected: %v", err)
	}
	for _, key := range g.Keys() {
		if _, err := g.TransitiveClosure(key); err != nil {
			t.Fatalf("closure for %s: %v", key, err)
		}
	}
}

func TestDependenciesOf(t *testing.T) {
	g := mustDefault(t)

	deps, err := g.DependenciesOf("classes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(deps, []string{"staff", "students"}) {
		t.Fatalf("unexpected deps %v", deps)
	}

	deps, err = g.DependenciesOf("students")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps == nil || len(deps) != 0 {
		t.Fatalf("expected empty non-nil deps, got %#v", deps)
	}

	if _, err := g.DependenciesOf("teleportation"); !errors.Is(err, ErrUnknownFeatureKey) {
		t.Fatalf("expected ErrUnknownFeatureKey, got %v", err)
	}
}

func TestTransitiveClosure(t *testing.T) {
	g := mustDefault(t)

	closure, err := g.TransitiveClosure("exam_paper_generator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"classes", "exams", "exams_full", "question_bank", "staff", "students", "subjects"}
	if !reflect.DeepEqual(closure, want) {
		t.Fatalf("closure mismatch\n got %v\nwant %v", closure, want)
	}

	closure, err = g.TransitiveClosure("pdf_reports")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closure) != 0 {
		t.Fatalf("expected empty closure, got %v", closure)
	}

	if _, err := g.TransitiveClosure("nope"); !errors.Is(err, ErrUnknownFeatureKey) {
		t.Fatalf("expected ErrUnknownFeatureKey, got %v", err)
	}
}

func TestClosureIsACopy(t *testing.T) {
	g := mustDefault(t)
	closure, _ := g.TransitiveClosure("classes")
	closure[0] = "mutated"
	again, _ := g.TransitiveClosure("classes")
	if again[0] == "mutated" {
		t.Fatal("closure shares backing storage with the graph")
	}
}

func TestNewGraphRejectsCycles(t *testing.T) {
	cases := map[string]map[string][]string{
		"self":     {"a": {"a"}},
		"pair":     {"a": {"b"}, "b": {"a"}},
		"indirect": {"a": {"b"}, "b": {"c"}, "c": {"a"}, "d": {}},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewGraph(defs); !errors.Is(err, ErrCyclicDependency) {
				t.Fatalf("expected ErrCyclicDependency, got %v", err)
			}
		})
	}
}

func TestNewGraphRejectsUnknownPrerequisite(t *testing.T) {
	_, err := NewGraph(map[string][]string{"classes": {"students"}})
	if !errors.Is(err, ErrUnknownFeatureKey) {
		t.Fatalf("expected ErrUnknownFeatureKey, got %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	g, err := Parse([]byte(`
features:
  students: []
  staff: []
  classes: [students, staff, students]
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deps, _ := g.DependenciesOf("classes")
	if !reflect.DeepEqual(deps, []string{"staff", "students"}) {
		t.Fatalf("duplicates not collapsed: %v", deps)
	}

	if _, err := Parse([]byte("features: {}")); err == nil {
		t.Fatal("expected empty graph to be rejected")
	}
	if _, err := Parse([]byte("features: [")); err == nil {
		t.Fatal("expected malformed yaml to be rejected")
	}
}

func TestLoad(t *testing.T) {
	g, err := Load("")
	if err != nil {
		t.Fatalf("default load failed: %v", err)
	}
	if !g.Has("question_bank") {
		t.Fatal("default graph missing question_bank")
	}

	path := filepath.Join(t.TempDir(), "features.yaml")
	if err := os.WriteFile(path, []byte("features:\n  a: [b]\n  b: [a]\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected cycle from file, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}

func mustDefault(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph(DefaultDefinitions())
	if err != nil {
		t.Fatalf("default graph: %v", err)
	}
	return g
}
