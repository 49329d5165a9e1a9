// Package batch runs the single-file improve pipeline across a directory
// of test files, bounded by per-file and total-batch size caps, with a
// skip/warning ledger for files that exceed them. Every file goes through
// the same engine entry contract; batch adds only discovery, path
// validation, and bookkeeping.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/webtestkit/improve/internal/engine"
)

// Batch caps.
const (
	MaxFilesPerBatch  = 50
	MaxFileSizeBytes  = 512 * 1024
	MaxTotalBatchSize = 10 * 1024 * 1024
)

// FileResult records the outcome for one test file.
type FileResult struct {
	FilePath   string `json:"filePath"`
	Skipped    bool   `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ReportPath string `json:"reportPath,omitempty"`
	OutputPath string `json:"outputPath,omitempty"`

	SelectorsChanged  int `json:"selectorsChanged"`
	AppliedAssertions int `json:"appliedAssertions"`
}

// Result aggregates a batch run.
type Result struct {
	FileResults    []FileResult `json:"fileResults"`
	Warnings       []string     `json:"warnings"`
	FilesProcessed int          `json:"filesProcessed"`
	FilesSkipped   int          `json:"filesSkipped"`

	TotalSelectorsChanged  int `json:"totalSelectorsChanged"`
	TotalAppliedAssertions int `json:"totalAppliedAssertions"`
}

// ValidatePath ensures path stays within projectDir.
func ValidatePath(path, projectDir string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path_not_allowed: path contains '..'")
	}
	cleanPath := filepath.Clean(Resolve(path, projectDir))
	cleanProject := filepath.Clean(projectDir)
	if !strings.HasPrefix(cleanPath, cleanProject) {
		return fmt.Errorf("path_not_allowed: path escapes project directory")
	}
	return nil
}

// Resolve resolves a relative path against the project directory.
func Resolve(path, projectDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(projectDir, path)
}

// IsTestFile reports whether path looks like a test file this engine reads.
func IsTestFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
}

// FindTestFiles recursively finds test files under dir, skipping common
// ignored directories, in deterministic (lexical walk) order.
func FindTestFiles(dir string) ([]string, error) {
	var testFiles []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if IsTestFile(path) {
			testFiles = append(testFiles, path)
		}
		return nil
	})
	return testFiles, err
}

// checkFileSize validates individual and running-total batch sizes.
func checkFileSize(fileSize, totalBatchSize int64) (string, bool) {
	if fileSize > MaxFileSizeBytes {
		return fmt.Sprintf("file size exceeds %dKB limit", MaxFileSizeBytes/1024), true
	}
	if totalBatchSize+fileSize > MaxTotalBatchSize {
		return fmt.Sprintf("total batch size would exceed %dMB limit", MaxTotalBatchSize/(1024*1024)), true
	}
	return "", false
}

// Run improves every test file under testDir with the given engine
// options (Options.TestFile is set per file; a per-file report lands next
// to each file). A file that fails to improve is skipped with its error
// recorded, and the batch continues.
func Run(ctx context.Context, testDir, projectDir string, opts engine.Options) (*Result, error) {
	if err := ValidatePath(testDir, projectDir); err != nil {
		return nil, err
	}
	fullPath := Resolve(testDir, projectDir)
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", testDir)
		}
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test directory must be a directory: %s", testDir)
	}

	testFiles, err := FindTestFiles(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	result := &Result{
		FileResults: make([]FileResult, 0, len(testFiles)),
		Warnings:    make([]string, 0),
	}

	if len(testFiles) > MaxFilesPerBatch {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("batch limited to %d files (found %d)", MaxFilesPerBatch, len(testFiles)))
		testFiles = testFiles[:MaxFilesPerBatch]
	}

	var totalBatchSize int64
	for _, filePath := range testFiles {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fi, err := os.Stat(filePath)
		if err != nil {
			skipFile(result, filePath, "failed to read file info")
			continue
		}
		if reason, skip := checkFileSize(fi.Size(), totalBatchSize); skip {
			skipFile(result, filePath, reason)
			continue
		}
		totalBatchSize += fi.Size()

		fileOpts := opts
		fileOpts.TestFile = filePath
		fileOpts.ReportPath = "" // per-file default, adjacent to the file

		runRes, err := engine.Run(ctx, fileOpts)
		if err != nil {
			skipFile(result, filePath, "improve failed: "+err.Error())
			continue
		}

		fr := FileResult{
			FilePath:          filePath,
			ReportPath:        runRes.ReportPath,
			OutputPath:        runRes.OutputPath,
			SelectorsChanged:  runRes.Report.Summary.SelectorsChanged,
			AppliedAssertions: runRes.Report.Summary.AppliedAssertions,
		}
		result.FileResults = append(result.FileResults, fr)
		result.FilesProcessed++
		result.TotalSelectorsChanged += fr.SelectorsChanged
		result.TotalAppliedAssertions += fr.AppliedAssertions
	}

	return result, nil
}

func skipFile(result *Result, filePath, reason string) {
	result.FileResults = append(result.FileResults, FileResult{
		FilePath: filePath,
		Skipped:  true,
		Reason:   reason,
	})
	result.FilesSkipped++
}

// Summary formats a one-line human-readable batch summary.
func (r *Result) Summary() string {
	return fmt.Sprintf("improved %d files (%d skipped): %d selectors changed, %d assertions applied",
		r.FilesProcessed, r.FilesSkipped, r.TotalSelectorsChanged, r.TotalAppliedAssertions)
}
