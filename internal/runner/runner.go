// Package runner executes a test manifest against a provisioned VM:
// the install section first, then every scenario step in order, with
// screenshots captured in-guest, fetched, and judged against reference
// images. Step failures are results, not errors; Run only errors when
// the run itself cannot proceed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/vitrinehq/vitrine/internal/lifecycle"
	"github.com/vitrinehq/vitrine/internal/manifest"
	"github.com/vitrinehq/vitrine/internal/remote"
	"github.com/vitrinehq/vitrine/pkg/imagediff"
)

// remoteCaptureDir is where screenshots land in the guest before they
// are fetched to the run directory.
const remoteCaptureDir = "/tmp"

// Config assembles a Runner.
type Config struct {
	// Handle identifies the VM the session is connected to; the default
	// output directory lives under its runs dir.
	Handle *lifecycle.Handle

	// Session is an established connection to the guest.
	Session remote.Session

	// VM is the manifest the guest was provisioned from. Its env is
	// exported to every scenario command and its screenshot command
	// performs captures.
	VM *manifest.VM

	// Test is the manifest to execute.
	Test *manifest.Test

	// OutputDir overrides the default run directory.
	OutputDir string

	// UpdateReferences rewrites each screenshot step's reference image
	// from the fresh capture instead of judging against it.
	UpdateReferences bool

	Logger *slog.Logger
	Clock  clock.Clock
}

// Runner executes one test manifest over an established session.
type Runner struct {
	handle  *lifecycle.Handle
	session remote.Session
	vm      *manifest.VM
	test    *manifest.Test
	outDir  string
	runID   string
	update  bool
	logger  *slog.Logger
	clock   clock.Clock
}

// New validates cfg and builds a Runner. The run directory is chosen
// here but not created until Run.
func New(cfg Config) (*Runner, error) {
	if cfg.Handle == nil {
		return nil, errors.New("runner: Handle is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("runner: Session is required")
	}
	if cfg.VM == nil {
		return nil, errors.New("runner: VM is required")
	}
	if cfg.Test == nil {
		return nil, errors.New("runner: Test is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	runID := newRunID(clk)
	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = filepath.Join(cfg.Handle.RunsDir(), runID)
	}

	return &Runner{
		handle:  cfg.Handle,
		session: cfg.Session,
		vm:      cfg.VM,
		test:    cfg.Test,
		outDir:  outDir,
		runID:   runID,
		update:  cfg.UpdateReferences,
		logger:  logger.With("test", cfg.Test.Test.Name, "vm", cfg.Handle.Name),
		clock:   clk,
	}, nil
}

// newRunID is unique per invocation and sorts chronologically.
func newRunID(c clock.Clock) string {
	return c.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// OutputDir is where this run writes captures, diffs and reports.
func (r *Runner) OutputDir() string {
	return r.outDir
}

// Run executes the manifest and returns its Result. Every manifest
// step appears in the Result exactly once, skipped ones included. The
// error return is reserved for the run not proceeding at all: an
// unusable run directory or a cancelled context.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create run directory: %w", err)
	}

	started := r.clock.Now()
	res := &Result{
		RunID:            r.runID,
		Test:             r.test.Test.Name,
		VM:               r.handle.Name,
		StartedAt:        started.UTC(),
		UpdateReferences: r.update,
		OutputDir:        r.outDir,
	}

	r.logger.Info("test run starting", "runID", r.runID, "steps", r.test.StepCount(), "outputDir", r.outDir)

	installOK, err := r.install(ctx, res)
	if err != nil {
		return nil, err
	}

	skipReason := ""
	if !installOK {
		skipReason = "install failed"
	}

	for _, sc := range r.test.Scenarios {
		for i := range sc.Steps {
			step := &sc.Steps[i]
			if skipReason != "" {
				res.Steps = append(res.Steps, skippedStep(sc.Name, i+1, step, skipReason))
				continue
			}

			sr, err := r.step(ctx, sc.Name, i+1, step)
			if err != nil {
				return nil, err
			}
			res.Steps = append(res.Steps, sr)

			if sr.Status == StatusFailed && step.Type == manifest.StepRun && step.Run.Critical {
				skipReason = "prior critical failure"
			}
		}
	}

	res.DurationSeconds = r.clock.Since(started).Seconds()
	res.finalize()

	r.logger.Info("test run finished",
		"verdict", res.Verdict,
		"passed", res.Totals.Passed,
		"failed", res.Totals.Failed,
		"skipped", res.Totals.Skipped,
	)
	return res, nil
}

// install runs the manifest's install section, if any. The boolean
// reports whether scenarios may proceed; a failed install command
// stops the section and skips every scenario step.
func (r *Runner) install(ctx context.Context, res *Result) (bool, error) {
	if r.test.Install == nil {
		return true, nil
	}

	distro := r.detectDistro(ctx)
	res.Distro = distro

	commands := r.test.Install.CommandsFor(distro)
	if len(commands) == 0 {
		return true, nil
	}

	for _, command := range commands {
		r.logger.Info("install command", "command", command)
		in := InstallResult{Command: command, Status: StatusPassed}

		out, err := r.session.Run(ctx, command, 0)
		in.ExitCode = out.ExitCode
		in.Output = strings.TrimSpace(out.Stdout)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			in.Status = StatusFailed
			in.Reason = err.Error()
		case out.ExitCode != 0:
			in.Status = StatusFailed
			in.Reason = exitReason(out)
		}
		res.Install = append(res.Install, in)

		if in.Status == StatusFailed {
			r.logger.Error("install command failed", "command", command, "reason", in.Reason)
			return false, nil
		}
	}
	return true, nil
}

// detectDistro asks the guest for its /etc/os-release ID so the
// install section can pick a distro-specific command list. Detection
// failure is not fatal; the generic commands run instead.
func (r *Runner) detectDistro(ctx context.Context) string {
	if len(r.test.Install.Distros) == 0 {
		return ""
	}

	out, err := r.session.Run(ctx, `. /etc/os-release && echo "$ID"`, 0)
	if err != nil || out.ExitCode != 0 {
		r.logger.Warn("unable to detect guest distro", "error", err, "exitCode", out.ExitCode)
		return ""
	}
	return strings.TrimSpace(out.Stdout)
}

func (r *Runner) step(ctx context.Context, scenario string, index int, step *manifest.Step) (StepResult, error) {
	started := r.clock.Now()

	var (
		sr  StepResult
		err error
	)
	switch step.Type {
	case manifest.StepRun:
		sr, err = r.runStep(ctx, step.Run)
	case manifest.StepScreenshot:
		sr, err = r.screenshotStep(ctx, step.Screenshot)
	case manifest.StepWait:
		sr, err = r.waitStep(ctx, step.Wait)
	default:
		sr = StepResult{Status: StatusFailed, Reason: fmt.Sprintf("unknown step type %q", step.Type)}
	}
	if err != nil {
		return StepResult{}, err
	}

	sr.Scenario = scenario
	sr.Index = index
	sr.Type = step.Type
	sr.Name = stepName(step)
	sr.DurationSeconds = r.clock.Since(started).Seconds()

	if sr.Status == StatusFailed {
		r.logger.Error("step failed", "scenario", scenario, "step", sr.Name, "reason", sr.Reason)
	} else {
		r.logger.Info("step finished", "scenario", scenario, "step", sr.Name, "status", sr.Status)
	}
	return sr, nil
}

func (r *Runner) runStep(ctx context.Context, step *manifest.RunStep) (StepResult, error) {
	sr := StepResult{Assertion: step.ExpectOutput != nil}

	out, err := r.session.Run(ctx, remote.FormatCmd(r.vm.Provision.Env, step.Command), step.Timeout.Std())
	sr.ExitCode = out.ExitCode
	sr.Output = strings.TrimSpace(out.Stdout)

	switch {
	case err != nil:
		if ctx.Err() != nil {
			return sr, ctx.Err()
		}
		sr.Status = StatusFailed
		sr.Reason = err.Error()
	case out.ExitCode != 0:
		sr.Status = StatusFailed
		sr.Reason = exitReason(out)
	case step.ExpectOutput != nil && !strings.Contains(out.Stdout, *step.ExpectOutput):
		sr.Status = StatusFailed
		sr.Reason = fmt.Sprintf("expected output %q not found in: %s", *step.ExpectOutput, sr.Output)
	default:
		sr.Status = StatusPassed
	}
	return sr, nil
}

func (r *Runner) screenshotStep(ctx context.Context, step *manifest.ScreenshotStep) (StepResult, error) {
	var sr StepResult

	remotePath := path.Join(remoteCaptureDir, "vitrine-"+step.Name+".png")
	capture := remote.FormatCmd(r.vm.Provision.Env, r.vm.Provision.Screenshot+" "+remotePath)
	if _, err := remote.RunStrict(ctx, r.session, capture, 0); err != nil {
		if ctx.Err() != nil {
			return sr, ctx.Err()
		}
		sr.Status = StatusFailed
		sr.Reason = fmt.Sprintf("capture failed: %v", err)
		return sr, nil
	}

	local := filepath.Join(r.outDir, step.Name+".png")
	if err := r.session.Fetch(ctx, remotePath, local); err != nil {
		if ctx.Err() != nil {
			return sr, ctx.Err()
		}
		sr.Status = StatusFailed
		sr.Reason = fmt.Sprintf("fetch failed: %v", err)
		return sr, nil
	}
	sr.CapturePath = local

	reference := r.test.ReferencePath(step)
	if reference == "" {
		sr.Status = StatusCaptured
		return sr, nil
	}
	sr.Reference = reference

	if r.update {
		if err := copyFile(local, reference); err != nil {
			sr.Status = StatusFailed
			sr.Reason = fmt.Sprintf("unable to update reference: %v", err)
			return sr, nil
		}
		r.logger.Info("reference updated", "screenshot", step.Name, "reference", reference)
		sr.Status = StatusUpdated
		return sr, nil
	}

	sr.Assertion = true
	sr.Threshold = r.test.ThresholdFor(step)

	if _, err := os.Stat(reference); err != nil {
		sr.Status = StatusFailed
		sr.Reason = "reference not found: " + reference + " (run with --update-references to create it)"
		return sr, nil
	}

	cmp, err := imagediff.Compare(local, reference, sr.Threshold)
	if err != nil {
		sr.Status = StatusFailed
		sr.Reason = err.Error()
		return sr, nil
	}
	sr.Score = cmp.Score

	if cmp.Passed {
		sr.Status = StatusPassed
		return sr, nil
	}

	sr.Status = StatusFailed
	sr.Reason = compareReason(cmp, sr.Threshold)
	if cmp.Reason == imagediff.FailBelowThreshold {
		diffPath := filepath.Join(r.outDir, step.Name+"-diff.png")
		if err := imagediff.WriteDiff(local, reference, diffPath); err != nil {
			r.logger.Warn("unable to write diff image", "screenshot", step.Name, "error", err)
		} else {
			sr.DiffPath = diffPath
		}
	}
	return sr, nil
}

func (r *Runner) waitStep(ctx context.Context, step *manifest.WaitStep) (StepResult, error) {
	timer := r.clock.NewTimer(step.Duration.Std())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return StepResult{}, ctx.Err()
	case <-timer.C():
	}
	return StepResult{Status: StatusPassed}, nil
}

func skippedStep(scenario string, index int, step *manifest.Step, reason string) StepResult {
	return StepResult{
		Scenario: scenario,
		Index:    index,
		Type:     step.Type,
		Name:     stepName(step),
		Status:   StatusSkipped,
		Reason:   reason,
	}
}

func stepName(step *manifest.Step) string {
	switch step.Type {
	case manifest.StepRun:
		return step.Run.Command
	case manifest.StepScreenshot:
		return step.Screenshot.Name
	case manifest.StepWait:
		return step.Wait.Duration.Std().String()
	}
	return step.Type
}

// exitReason renders a non-zero exit for the report, preferring
// stderr.
func exitReason(out remote.Result) string {
	reason := fmt.Sprintf("exit %d", out.ExitCode)
	detail := strings.TrimSpace(out.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(out.Stdout)
	}
	if detail != "" {
		reason += ": " + detail
	}
	return reason
}

func compareReason(cmp imagediff.Result, threshold float64) string {
	if cmp.Reason == imagediff.FailDimensionMismatch {
		return "image dimensions do not match"
	}
	return fmt.Sprintf("similarity %.4f below threshold %v", cmp.Score, threshold)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
