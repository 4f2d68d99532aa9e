package runner

import "time"

// Step statuses. Every executed step settles in exactly one.
const (
	StatusPassed   = "passed"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
	StatusUpdated  = "updated"
	StatusCaptured = "captured"
)

// Run verdicts. A run that failed nothing but asserted nothing is
// reported as VerdictNoAssertions rather than a hollow pass.
const (
	VerdictPass         = "pass"
	VerdictFail         = "fail"
	VerdictNoAssertions = "no-assertions"
)

// StepResult records the outcome of one scenario step.
type StepResult struct {
	Scenario string `json:"scenario"`

	// Index is the step's 1-based position within its scenario.
	Index int `json:"index"`

	Type string `json:"type"`

	// Name labels the step: the command for run steps, the screenshot
	// name for screenshot steps, the duration for wait steps.
	Name string `json:"name"`

	Status string `json:"status"`

	// Reason explains a failure or a skip.
	Reason string `json:"reason,omitempty"`

	ExitCode int    `json:"exit_code,omitempty"`
	Output   string `json:"output,omitempty"`

	// Score and Threshold are set when a screenshot was judged against
	// its reference.
	Score     float64 `json:"score,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`

	Reference   string `json:"reference,omitempty"`
	CapturePath string `json:"capture_path,omitempty"`
	DiffPath    string `json:"diff_path,omitempty"`

	// Assertion marks steps that judged something: screenshots compared
	// against a reference and run steps with an expected output. A run
	// with zero assertions cannot pass.
	Assertion bool `json:"assertion"`

	DurationSeconds float64 `json:"duration_seconds"`
}

// InstallResult records one command from the manifest's install
// section.
type InstallResult struct {
	Command  string `json:"command"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code,omitempty"`
	Output   string `json:"output,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Totals aggregates step outcomes for the report footer.
type Totals struct {
	Steps      int `json:"steps"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Updated    int `json:"updated"`
	Captured   int `json:"captured"`
	Assertions int `json:"assertions"`
}

// Result is the full outcome of one test run. It is the unit the
// report formatters consume and what report.json serializes.
type Result struct {
	RunID     string    `json:"run_id"`
	Test      string    `json:"test"`
	VM        string    `json:"vm"`
	StartedAt time.Time `json:"started_at"`

	DurationSeconds float64 `json:"duration_seconds"`

	Verdict string `json:"verdict"`

	UpdateReferences bool `json:"update_references,omitempty"`

	// Distro is the guest's /etc/os-release ID when the install section
	// needed to detect it.
	Distro string `json:"distro,omitempty"`

	Install []InstallResult `json:"install,omitempty"`
	Steps   []StepResult    `json:"steps"`
	Totals  Totals          `json:"totals"`

	// OutputDir is where captures, diffs and reports for this run live.
	OutputDir string `json:"output_dir"`
}

// finalize computes totals and the verdict once every step has
// settled.
func (r *Result) finalize() {
	t := Totals{Steps: len(r.Steps)}
	for i := range r.Steps {
		switch r.Steps[i].Status {
		case StatusPassed:
			t.Passed++
		case StatusFailed:
			t.Failed++
		case StatusSkipped:
			t.Skipped++
		case StatusUpdated:
			t.Updated++
		case StatusCaptured:
			t.Captured++
		}
		if r.Steps[i].Assertion {
			t.Assertions++
		}
	}
	r.Totals = t
	r.Verdict = r.verdict()
}

func (r *Result) verdict() string {
	if r.installFailed() || r.Totals.Failed > 0 {
		return VerdictFail
	}
	if r.Totals.Assertions == 0 {
		return VerdictNoAssertions
	}
	return VerdictPass
}

func (r *Result) installFailed() bool {
	for _, in := range r.Install {
		if in.Status == StatusFailed {
			return true
		}
	}
	return false
}
