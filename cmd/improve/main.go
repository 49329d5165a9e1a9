// main.go — Entry point for the improve CLI binary.
// Drives the improve engine against recorded test files.
//
// Usage: improve <action> [args] [--flags]
//
// Actions: run, batch, classify
// Formats: --format human (default), --format json, --format csv
//
// Exit codes:
//
//	0 = success
//	1 = error (improve run failed)
//	2 = usage error (missing args, invalid flags)
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/webtestkit/improve/cmd/improve/output"
	"github.com/webtestkit/improve/internal/batch"
	"github.com/webtestkit/improve/internal/config"
	"github.com/webtestkit/improve/internal/engine"
	"github.com/webtestkit/improve/internal/errs"
	"github.com/webtestkit/improve/internal/policy"
	"github.com/webtestkit/improve/internal/triage"
)

// version is set at build time via -ldflags.
var version = "1.0.0"

const usageText = `improve — make recorded browser tests more robust

Usage:
  improve <action> [args] [--flags]

Actions:
  run <test.yaml>       Improve one test file (default action)
  batch <dir>           Improve every test file under a directory
  classify <log-file>   Classify captured failure messages without a browser

Global Flags:
  --format <human|json|csv>       Output format (default: human)
  --policy <reliable|balanced|aggressive>
                                  Assertion apply policy (default: balanced)
  --assertions <none|candidates>  Generate assertion candidates (default: none)
  --assertion-source <deterministic|snapshot-native|snapshot-cli>
                                  Candidate source (default: deterministic)
  --apply-selectors               Write adopted selector repairs back to the file
  --apply-assertions              Insert validated assertions into the file
  --report <path>                 Report path (default: next to the test file)
  --timeout <ms>                  Per-step browser timeout (default: 10000)
  --version                       Show version
  --help                          Show this help

Examples:
  improve run checkout.yaml
  improve run checkout.yaml --apply-selectors
  improve run checkout.yaml --assertions candidates --apply-assertions --policy reliable
  improve batch tests/ --apply-selectors
  improve classify ci-failures.log --format json
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the main entry point, separated for testability.
// Returns the exit code.
func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			fmt.Printf("improve %s\n", version)
			return 0
		}
		if arg == "--help" || arg == "-h" {
			fmt.Print(usageText)
			return 0
		}
	}

	action := args[0]
	if action == "help" {
		fmt.Print(usageText)
		return 0
	}

	remaining := args[1:]
	// A bare file path is shorthand for `run <file>`.
	if action != "run" && action != "batch" && action != "classify" {
		if strings.HasSuffix(action, ".yaml") || strings.HasSuffix(action, ".yml") {
			remaining = args
			action = "run"
		} else {
			fmt.Fprintf(os.Stderr, "Error: unknown action %q. Valid actions: run, batch, classify\n", action)
			return 2
		}
	}

	flags, reportPath, remaining := extractGlobalFlags(remaining)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		return 1
	}

	cfg, err := config.Load(cwd, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: configuration: %v\n", err)
		return 2
	}

	if len(remaining) < 1 {
		fmt.Fprintf(os.Stderr, "Error: missing argument for action %q\n\n", action)
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}
	target := remaining[0]

	formatter := output.GetFormatter(cfg.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch action {
	case "run":
		return runImprove(ctx, cfg, target, reportPath, formatter)
	case "batch":
		return runBatch(ctx, cfg, target, cwd, formatter)
	case "classify":
		return runClassify(cfg, target, formatter)
	}
	return 2
}

func engineOptions(cfg config.Config, testFile, reportPath string) engine.Options {
	return engine.Options{
		TestFile:        testFile,
		ApplySelectors:  cfg.ApplySelectors,
		ApplyAssertions: cfg.ApplyAssertions,
		Assertions:      cfg.Assertions,
		AssertionSource: cfg.AssertionSource,
		AssertionPolicy: policy.Name(cfg.Policy),
		ReportPath:      reportPath,
	}
}

func runImprove(ctx context.Context, cfg config.Config, testFile, reportPath string, formatter output.Formatter) int {
	res, err := engine.Run(ctx, engineOptions(cfg, testFile, reportPath))
	if err != nil {
		return failResult(formatter, "run", err)
	}

	s := res.Report.Summary
	result := &output.Result{
		Success: true,
		Action:  "run",
		Data: map[string]any{
			"report_path":         res.ReportPath,
			"output_path":         res.OutputPath,
			"selectors_changed":   s.SelectorsChanged,
			"selectors_unchanged": s.SelectorsUnchanged,
			"applied_assertions":  s.AppliedAssertions,
			"stale_removed":       s.StaleAssertionsRemoved,
			"failing_removed":     s.RuntimeFailingStepsRemoved,
			"coverage_ratio":      fmt.Sprintf("%.2f", s.AssertionCoverageRatio),
		},
	}
	if err := formatter.Format(os.Stdout, result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: format output: %v\n", err)
		return 1
	}
	return 0
}

func runBatch(ctx context.Context, cfg config.Config, dir, projectDir string, formatter output.Formatter) int {
	res, err := batch.Run(ctx, dir, projectDir, engineOptions(cfg, "", ""))
	if err != nil {
		return failResult(formatter, "batch", err)
	}

	var detail strings.Builder
	for _, fr := range res.FileResults {
		if fr.Skipped {
			detail.WriteString(fmt.Sprintf("skip %s: %s\n", fr.FilePath, fr.Reason))
			continue
		}
		detail.WriteString(fmt.Sprintf("ok   %s: %d selectors changed, %d assertions applied\n",
			fr.FilePath, fr.SelectorsChanged, fr.AppliedAssertions))
	}
	for _, w := range res.Warnings {
		detail.WriteString("warn " + w + "\n")
	}
	detail.WriteString(res.Summary() + "\n")

	result := &output.Result{
		Success: true,
		Action:  "batch",
		Detail:  detail.String(),
		Data: map[string]any{
			"files_processed":    res.FilesProcessed,
			"files_skipped":      res.FilesSkipped,
			"selectors_changed":  res.TotalSelectorsChanged,
			"applied_assertions": res.TotalAppliedAssertions,
		},
	}
	if err := formatter.Format(os.Stdout, result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: format output: %v\n", err)
		return 1
	}
	return 0
}

func runClassify(cfg config.Config, logFile string, formatter output.Formatter) int {
	f, err := os.Open(logFile)
	if err != nil {
		return failResult(formatter, "classify", fmt.Errorf("open log file: %w", err))
	}
	defer f.Close()

	var messages []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			messages = append(messages, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return failResult(formatter, "classify", fmt.Errorf("read log file: %w", err))
	}

	res := triage.ClassifyBatch(messages)

	var detail strings.Builder
	for i, c := range res.Classifications {
		detail.WriteString(fmt.Sprintf("%d. %s (%.2f) — %s\n", i+1, c.Category, c.Confidence, c.RecommendedAction))
	}

	result := &output.Result{
		Success: true,
		Action:  "classify",
		Detail:  detail.String(),
		Data: map[string]any{
			"total_classified": res.TotalClassified,
			"real_bugs":        res.RealBugs,
			"flaky":            res.Flaky,
			"uncertain":        res.Uncertain,
		},
	}
	if err := formatter.Format(os.Stdout, result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: format output: %v\n", err)
		return 1
	}
	return 0
}

func failResult(formatter output.Formatter, action string, err error) int {
	result := &output.Result{Success: false, Action: action, Error: err.Error()}
	_ = formatter.Format(os.Stdout, result)

	var ue *errs.UserError
	var ve *errs.ValidationError
	if errors.As(err, &ue) || errors.As(err, &ve) {
		return 2
	}
	return 1
}

// extractGlobalFlags extracts global flags from args and returns
// FlagOverrides, the report-path override, and the remaining args.
func extractGlobalFlags(args []string) (*config.FlagOverrides, string, []string) {
	flags := &config.FlagOverrides{}
	remaining := args

	var format string
	format, remaining = extractFlag(remaining, "--format")
	if format != "" {
		flags.Format = &format
	}

	var policyName string
	policyName, remaining = extractFlag(remaining, "--policy")
	if policyName != "" {
		flags.Policy = &policyName
	}

	var assertions string
	assertions, remaining = extractFlag(remaining, "--assertions")
	if assertions != "" {
		flags.Assertions = &assertions
	}

	var source string
	source, remaining = extractFlag(remaining, "--assertion-source")
	if source != "" {
		flags.AssertionSource = &source
	}

	var timeoutStr string
	timeoutStr, remaining = extractFlag(remaining, "--timeout")
	if timeoutStr != "" {
		timeout := parseInt(timeoutStr)
		if timeout > 0 {
			flags.TimeoutMs = &timeout
		}
	}

	var reportPath string
	reportPath, remaining = extractFlag(remaining, "--report")

	remaining = extractBoolFlag(remaining, "--apply-selectors", func() {
		v := true
		flags.ApplySelectors = &v
	})
	remaining = extractBoolFlag(remaining, "--apply-assertions", func() {
		v := true
		flags.ApplyAssertions = &v
	})

	return flags, reportPath, remaining
}

func extractBoolFlag(args []string, flag string, set func()) []string {
	for i, a := range args {
		if a == flag {
			set()
			return append(args[:i], args[i+1:]...)
		}
	}
	return args
}

// extractFlag removes a flag and its value from args, returning the value
// and remaining args.
func extractFlag(args []string, flag string) (string, []string) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			val := args[i+1]
			remaining := make([]string, 0, len(args)-2)
			remaining = append(remaining, args[:i]...)
			remaining = append(remaining, args[i+2:]...)
			return val, remaining
		}
	}
	return "", args
}

// parseInt parses a string as a positive integer, returning 0 on failure.
func parseInt(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
