package scheduler

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type planFile struct {
	Plans []TestPlan `yaml:"plans"`
}

// UnmarshalYAML defaults enabled to true when the key is absent.
func (p *TestPlan) UnmarshalYAML(node *yaml.Node) error {
	type plain TestPlan
	raw := plain{Enabled: true}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = TestPlan(raw)
	return nil
}

// ParsePlans reads a plan file: a YAML mapping with a "plans" list. Every
// plan is validated.
func ParsePlans(r io.Reader) ([]TestPlan, error) {
	var f planFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decoding plans: %w", ErrInvalidPlan, err)
	}

	seen := make(map[string]bool, len(f.Plans))
	for i := range f.Plans {
		if err := ValidatePlan(f.Plans[i]); err != nil {
			return nil, fmt.Errorf("plan %d: %w", i, err)
		}
		if seen[f.Plans[i].ID] {
			return nil, fmt.Errorf("plan %d: %w: %s", i, ErrDuplicatePlan, f.Plans[i].ID)
		}
		seen[f.Plans[i].ID] = true
	}
	return f.Plans, nil
}

// LoadPlans reads and validates the plan file at path.
func LoadPlans(path string) ([]TestPlan, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("opening plans file: %w", err)
	}
	defer f.Close()
	return ParsePlans(f)
}
