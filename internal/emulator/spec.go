package emulator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec is a YAML description of an emulator session: the function identity
// to advertise and the events to feed the runtime, in order.
type Spec struct {
	FunctionName string  `yaml:"functionName"`
	TimeoutS     int     `yaml:"timeout,omitempty"`
	Events       []Event `yaml:"events"`
}

// LoadSpec parses a session spec from a YAML file.
func LoadSpec(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spec: %w", err)
	}
	defer f.Close()
	return ParseSpec(f)
}

// ParseSpec parses a session spec and validates every event payload.
func ParseSpec(r io.Reader) (*Spec, error) {
	var spec Spec
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}

	if spec.FunctionName == "" {
		spec.FunctionName = "local-function"
	}
	for i, ev := range spec.Events {
		if ev.Payload == "" {
			return nil, fmt.Errorf("event %d (%s): empty payload", i, ev.Name)
		}
		if !json.Valid([]byte(ev.Payload)) {
			return nil, fmt.Errorf("event %d (%s): payload is not valid JSON", i, ev.Name)
		}
	}
	return &spec, nil
}
