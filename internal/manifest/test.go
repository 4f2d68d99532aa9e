package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultThreshold is the similarity bar for screenshot assertions when
// neither the manifest nor the step sets one.
const DefaultThreshold = 0.95

// Step kinds understood by the scenario runner.
const (
	StepRun        = "run"
	StepScreenshot = "screenshot"
	StepWait       = "wait"
)

// Test is a complete test manifest: optional guest package installation
// followed by ordered scenarios.
type Test struct {
	Test      *TestSpec    `yaml:"test" validate:"required"`
	Install   *InstallSpec `yaml:"install"`
	Scenarios []Scenario   `yaml:"scenarios" validate:"required,min=1,dive"`

	// Path is the absolute path this manifest was loaded from.
	// Reference images resolve against its directory.
	Path string `yaml:"-"`
}

// TestSpec holds manifest-wide settings.
type TestSpec struct {
	Name string `yaml:"name" validate:"required"`

	// Threshold is the default similarity bar for screenshot steps.
	Threshold *float64 `yaml:"threshold" validate:"omitempty,min=0,max=1"`
}

// InstallSpec lists guest commands run once before any scenario. Any
// key other than commands is a distro ID; when it matches the guest's
// /etc/os-release ID, its list replaces the generic commands.
type InstallSpec struct {
	Commands []string            `yaml:"commands"`
	Distros  map[string][]string `yaml:",inline"`
}

// CommandsFor returns the install commands for a guest distro: the
// distro-specific list when one exists, the generic list otherwise.
func (s *InstallSpec) CommandsFor(distro string) []string {
	if s == nil {
		return nil
	}
	if cmds, ok := s.Distros[distro]; ok && distro != "" {
		return cmds
	}
	return s.Commands
}

// Scenario is a named ordered list of steps.
type Scenario struct {
	Name  string `yaml:"name" validate:"required"`
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// Step is one scenario step. Exactly one of Run, Screenshot or Wait is
// populated, matching Type.
type Step struct {
	Type string `yaml:"type" validate:"required,oneof=run screenshot wait"`

	Run        *RunStep        `yaml:"-"`
	Screenshot *ScreenshotStep `yaml:"-"`
	Wait       *WaitStep       `yaml:"-"`
}

// UnmarshalYAML decodes the variant named by the step's type field.
// Unknown types decode with all variants nil and are rejected by
// validation.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := value.Decode(&head); err != nil {
		return err
	}

	s.Type = head.Type
	s.Run = nil
	s.Screenshot = nil
	s.Wait = nil

	switch head.Type {
	case StepRun:
		var run RunStep
		if err := value.Decode(&run); err != nil {
			return err
		}
		s.Run = &run
	case StepScreenshot:
		var shot ScreenshotStep
		if err := value.Decode(&shot); err != nil {
			return err
		}
		s.Screenshot = &shot
	case StepWait:
		var wait WaitStep
		if err := value.Decode(&wait); err != nil {
			return err
		}
		s.Wait = &wait
	}

	return nil
}

// RunStep executes a command in the guest.
type RunStep struct {
	Command string `yaml:"command" validate:"required"`

	// ExpectOutput, when set, must appear in the command's stdout for
	// the step to pass.
	ExpectOutput *string `yaml:"expect_output"`

	// Critical marks a step whose failure skips the rest of the run.
	Critical bool `yaml:"critical"`

	// Timeout bounds the remote execution. Zero means the session
	// default.
	Timeout Duration `yaml:"timeout"`
}

// ScreenshotStep captures the guest screen and, when a reference image
// is named, judges the capture against it.
type ScreenshotStep struct {
	// Name labels the captured artifact; the capture lands as
	// <name>.png in the run output directory.
	Name string `yaml:"name" validate:"required,file_slug"`

	// Reference is the reference image path, resolved relative to the
	// manifest. Empty means capture only, no assertion.
	Reference string `yaml:"reference"`

	// Threshold overrides the manifest default for this step.
	Threshold *float64 `yaml:"threshold" validate:"omitempty,min=0,max=1"`
}

// WaitStep pauses the scenario, typically to let a compositor settle
// before a capture.
type WaitStep struct {
	Duration Duration `yaml:"duration" validate:"required"`
}

// Duration decodes YAML strings like "2s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LoadTest reads, defaults and validates a test manifest.
func LoadTest(path string) (*Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read test manifest: %w", err)
	}

	var m Test
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unable to parse test manifest %s: %w", path, err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		m.Path = abs
	} else {
		m.Path = path
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid test manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Test) applyDefaults() {
	if m.Test != nil && m.Test.Threshold == nil {
		threshold := float64(DefaultThreshold)
		m.Test.Threshold = &threshold
	}
}

// Validate checks field rules and that every step carries the variant
// its type names.
func (m *Test) Validate() error {
	if err := validateStruct(m); err != nil {
		return err
	}

	var errs ValidationErrors
	for i, sc := range m.Scenarios {
		for j, step := range sc.Steps {
			field := fmt.Sprintf("scenarios[%d].steps[%d]", i, j)
			switch step.Type {
			case StepRun:
				if step.Run == nil {
					errs = append(errs, ValidationError{Field: field, Message: "run step configuration is required"})
				}
			case StepScreenshot:
				if step.Screenshot == nil {
					errs = append(errs, ValidationError{Field: field, Message: "screenshot step configuration is required"})
				}
			case StepWait:
				if step.Wait == nil {
					errs = append(errs, ValidationError{Field: field, Message: "wait step configuration is required"})
				}
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Dir returns the directory the manifest was loaded from.
func (m *Test) Dir() string {
	return filepath.Dir(m.Path)
}

// ThresholdFor returns the effective similarity bar for one screenshot
// step.
func (m *Test) ThresholdFor(step *ScreenshotStep) float64 {
	if step.Threshold != nil {
		return *step.Threshold
	}
	if m.Test != nil && m.Test.Threshold != nil {
		return *m.Test.Threshold
	}
	return DefaultThreshold
}

// ReferencePath resolves a step's reference image against the manifest
// directory. Empty when the step asserts nothing.
func (m *Test) ReferencePath(step *ScreenshotStep) string {
	if step.Reference == "" {
		return ""
	}
	if filepath.IsAbs(step.Reference) {
		return step.Reference
	}
	return filepath.Join(m.Dir(), step.Reference)
}

// StepCount is the total number of steps across all scenarios.
func (m *Test) StepCount() int {
	n := 0
	for _, sc := range m.Scenarios {
		n += len(sc.Steps)
	}
	return n
}
