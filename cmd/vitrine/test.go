package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitrinehq/vitrine/internal/manifest"
	"github.com/vitrinehq/vitrine/internal/runner"
)

func newTestCmd(root *rootFlags) *cobra.Command {
	var (
		manifestPath string
		outputDir    string
		update       bool
	)

	cmd := &cobra.Command{
		Use:   "test <name>",
		Short: "Run a test manifest against a VM and judge its screenshots",
		Args:  exactArgs(1, "one VM name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, root, args[0], manifestPath, outputDir, update)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Path to the test manifest (required)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for captures, diffs and reports")
	cmd.Flags().BoolVar(&update, "update-references", false, "Overwrite reference images with fresh captures")

	return cmd
}

func newUpdateReferencesCmd(root *rootFlags) *cobra.Command {
	var (
		manifestPath string
		outputDir    string
	)

	cmd := &cobra.Command{
		Use:   "update-references <name>",
		Short: "Re-capture every screenshot step and overwrite its reference image",
		Args:  exactArgs(1, "one VM name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, root, args[0], manifestPath, outputDir, true)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Path to the test manifest (required)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for captures and reports")

	return cmd
}

func runTest(cmd *cobra.Command, root *rootFlags, name, manifestPath, outputDir string, update bool) error {
	if manifestPath == "" {
		return &usageError{errors.New("--manifest is required")}
	}

	vm, err := manifest.FindVM(name)
	if err != nil {
		return err
	}
	test, err := manifest.LoadTest(manifestPath)
	if err != nil {
		return err
	}

	ctl, hv, err := root.newController()
	if err != nil {
		return err
	}
	defer hv.Close()

	handle, session, err := ctl.Connect(cmd.Context(), name)
	if err != nil {
		return err
	}
	defer session.Close()

	run, err := runner.New(runner.Config{
		Handle:           handle,
		Session:          session,
		VM:               vm,
		Test:             test,
		OutputDir:        outputDir,
		UpdateReferences: update,
	})
	if err != nil {
		return err
	}

	res, err := run.Run(cmd.Context())
	if err != nil {
		return err
	}

	text, err := runner.Format(res, runner.FormatText)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), text)

	if err := runner.WriteReports(res); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nReport written to %s\n", res.OutputDir)

	if res.Verdict == runner.VerdictFail {
		return &verdictError{verdict: res.Verdict}
	}
	return nil
}
