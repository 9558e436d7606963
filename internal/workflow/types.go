package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terminail/autodroid-sub001/internal/device"
	"github.com/terminail/autodroid-sub001/internal/driver"
	"github.com/terminail/autodroid-sub001/internal/script"
)

// Step actions.
const (
	ActionLaunchApp      = "launch_app"
	ActionClick          = "click"
	ActionInputText      = "input_text"
	ActionWaitForElement = "wait_for_element"
	ActionSwipe          = "swipe"
	ActionWait           = "wait"
	ActionPressKey       = "press_key"
)

// DefaultStepTimeout bounds the element wait when a step sets none.
const DefaultStepTimeout = 30 * time.Second

// Workflow is one parsed workflow file.
type Workflow struct {
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description"`
	Version         string          `yaml:"version,omitempty"`
	Metadata        Metadata        `yaml:"metadata"`
	DeviceSelection device.Selector `yaml:"device_selection,omitempty"`
	Steps           []Step          `yaml:"steps"`
}

// Metadata names the app under test.
type Metadata struct {
	AppPackage  string `yaml:"app_package"`
	AppActivity string `yaml:"app_activity"`
}

// Step is one workflow step.
type Step struct {
	Name    string   `yaml:"name"`
	Action  string   `yaml:"action"`
	Locator *Locator `yaml:"locator,omitempty"`

	// Timeout is in seconds; fractions are allowed.
	Timeout float64 `yaml:"timeout,omitempty"`
	Retries int     `yaml:"retries,omitempty"`

	Text       string `yaml:"text,omitempty"`
	Package    string `yaml:"package,omitempty"`
	Activity   string `yaml:"activity,omitempty"`
	Swipe      *Swipe `yaml:"swipe,omitempty"`
	DurationMS int    `yaml:"duration_ms,omitempty"`
	Key        string `yaml:"key,omitempty"`
}

// Locator holds the ordered strategies for one element.
type Locator struct {
	Strategies []Strategy `yaml:"strategies"`
}

// Strategy is one way of finding an element.
type Strategy struct {
	Type  driver.Strategy `yaml:"type"`
	Value string          `yaml:"value"`
}

// Swipe is a swipe gesture.
type Swipe struct {
	X1         int `yaml:"x1"`
	Y1         int `yaml:"y1"`
	X2         int `yaml:"x2"`
	Y2         int `yaml:"y2"`
	DurationMS int `yaml:"duration_ms"`
}

// StepTimeout returns the element wait bound for s.
func (s *Step) StepTimeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultStepTimeout
	}
	return time.Duration(s.Timeout * float64(time.Second))
}

// Parse reads exactly one workflow document from r.
//
// Returns:
//   - script.ErrContractViolation wrapped when r holds zero or several documents
//   - ErrInvalidWorkflow wrapped when the document fails validation
func Parse(r io.Reader) (*Workflow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var docs []*Workflow
	for {
		var wf Workflow
		err := dec.Decode(&wf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
		}
		docs = append(docs, &wf)
	}

	if len(docs) != 1 {
		return nil, fmt.Errorf("%w: workflow file holds %d documents, want 1", script.ErrContractViolation, len(docs))
	}
	wf := docs[0]
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte) (*Workflow, error) {
	return Parse(bytes.NewReader(data))
}

// Validate checks the workflow and fills in default step names.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidWorkflow)
	}
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.Name == "" {
			s.Name = fmt.Sprintf("step-%d", i+1)
		}
		if err := s.validate(w.Metadata); err != nil {
			return fmt.Errorf("%w: step %d (%s): %w", ErrInvalidWorkflow, i, s.Name, err)
		}
	}
	return nil
}

func (s *Step) validate(meta Metadata) error {
	if s.Retries < 0 {
		return errors.New("retries must be >= 0")
	}
	if s.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}

	switch s.Action {
	case ActionClick, ActionInputText, ActionWaitForElement:
		if s.Locator == nil || len(s.Locator.Strategies) == 0 {
			return errors.New("locator required")
		}
		for _, st := range s.Locator.Strategies {
			if !driver.ValidStrategy(st.Type) {
				return fmt.Errorf("unknown locator strategy %q", st.Type)
			}
			if st.Value == "" {
				return fmt.Errorf("empty %s locator", st.Type)
			}
			if st.Type == driver.StrategyCoordinate {
				if _, _, err := driver.ParseCoordinate(st.Value); err != nil {
					return err
				}
			}
		}
		if s.Action == ActionWaitForElement && !hasStructural(s.Locator.Strategies) {
			return errors.New("wait_for_element needs an id, text or xpath strategy")
		}
		if s.Action == ActionInputText && s.Text == "" {
			return errors.New("text required")
		}
	case ActionLaunchApp:
		if s.Package == "" && meta.AppPackage == "" {
			return errors.New("package required (step or metadata.app_package)")
		}
	case ActionSwipe:
		if s.Swipe == nil {
			return errors.New("swipe coordinates required")
		}
	case ActionWait:
		if s.DurationMS <= 0 {
			return errors.New("duration_ms must be > 0")
		}
	case ActionPressKey:
		if s.Key == "" {
			return errors.New("key required")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, s.Action)
	}
	return nil
}

func hasStructural(strategies []Strategy) bool {
	for _, st := range strategies {
		if st.Type != driver.StrategyCoordinate {
			return true
		}
	}
	return false
}
