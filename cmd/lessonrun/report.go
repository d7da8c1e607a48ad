package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ascenddev/coderunner/model"
)

var (
	passStyle   = color.New(color.FgGreen, color.Bold)
	failStyle   = color.New(color.FgRed, color.Bold)
	headerStyle = color.New(color.FgCyan, color.Bold)
	dimStyle    = color.New(color.Faint)
)

// printTestResult writes the verdict of a graded run and returns the exit code
func printTestResult(w io.Writer, lesson *model.Lesson, result model.TestResult) int {
	title := lesson.Title
	if title == "" {
		title = lesson.ID
	}
	headerStyle.Fprintf(w, "%s (%s)\n", title, lesson.Language)

	for _, tc := range result.TestResults {
		if tc.Passed {
			passStyle.Fprint(w, "  PASS ")
		} else {
			failStyle.Fprint(w, "  FAIL ")
		}
		fmt.Fprintln(w, tc.TestName)
		if !tc.Passed && tc.Message != "" {
			dimStyle.Fprintln(w, indent(tc.Message, "       "))
		}
	}

	if kv := result.KeywordValidation; kv != nil && !kv.IsValid {
		failStyle.Fprintln(w, "  Keyword requirements not met:")
		for _, e := range kv.Errors {
			fmt.Fprintf(w, "    - %s\n", e.Message)
		}
	}

	if result.CompilationOutput != "" && !result.Success {
		headerStyle.Fprintln(w, "Compilation output:")
		dimStyle.Fprintln(w, indent(result.CompilationOutput, "  "))
	}

	if result.Performance != nil {
		dimStyle.Fprintf(w, "%d test(s) in %.0f ms\n", result.Performance.TestCount, result.Performance.ExecutionTimeMs)
	}

	passed, total := result.PassedCount(), len(result.TestResults)
	if result.Success {
		passStyle.Fprintf(w, "PASSED %d/%d\n", passed, total)
		return exitPassed
	}
	failStyle.Fprintf(w, "FAILED %d/%d\n", passed, total)
	return exitFailed
}

// printExecution writes the output of a playground run and returns the exit code
func printExecution(w io.Writer, result model.CodeExecutionResult) int {
	if result.CompilationOutput != "" {
		headerStyle.Fprintln(w, "Compilation output:")
		dimStyle.Fprintln(w, indent(result.CompilationOutput, "  "))
	}
	if result.Stdout != "" {
		headerStyle.Fprintln(w, "Stdout:")
		fmt.Fprint(w, ensureNewline(result.Stdout))
	}
	if result.Stderr != "" {
		headerStyle.Fprintln(w, "Stderr:")
		failStyle.Fprint(w, ensureNewline(result.Stderr))
	}

	if result.Success {
		passStyle.Fprintf(w, "exit code %d in %d ms\n", result.ExitCode, result.ExecutionTimeMs)
		return exitPassed
	}
	failStyle.Fprintf(w, "exit code %d in %d ms\n", result.ExitCode, result.ExecutionTimeMs)
	return exitFailed
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
