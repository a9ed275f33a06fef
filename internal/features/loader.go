package features

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk shape of a feature graph override:
//
//	features:
//	  classes: [students, staff]
type fileFormat struct {
	Features map[string][]string `yaml:"features"`
}

// Load returns the built-in graph, or the graph described by the YAML file at
// path when one is configured. Validation errors are fatal to the caller.
func Load(path string) (*Graph, error) {
	if strings.TrimSpace(path) == "" {
		return NewGraph(DefaultDefinitions())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature graph %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse builds a graph from YAML bytes.
func Parse(raw []byte) (*Graph, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode feature graph: %w", err)
	}
	if len(doc.Features) == 0 {
		return nil, fmt.Errorf("feature graph defines no features")
	}
	return NewGraph(doc.Features)
}
