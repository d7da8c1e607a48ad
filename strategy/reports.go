package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ascenddev/coderunner/model"
)

const passedMessage = "Test passed"

type pytestReport struct {
	Tests []struct {
		Name     string  `json:"name"`
		Outcome  string  `json:"outcome"`
		Duration float64 `json:"duration"`
		Message  *string `json:"message"`
	} `json:"tests"`
	Summary struct {
		Total    int     `json:"total"`
		Passed   int     `json:"passed"`
		Failed   int     `json:"failed"`
		Skipped  int     `json:"skipped"`
		Error    int     `json:"error"`
		Duration float64 `json:"duration"`
	} `json:"summary"`
}

type goTestReport struct {
	Tests []*struct {
		Name    string  `json:"name"`
		Action  string  `json:"action"`
		Elapsed float64 `json:"elapsed"`
		Output  *string `json:"output"`
	} `json:"tests"`
	Summary *struct {
		Total    int     `json:"total"`
		Passed   int     `json:"passed"`
		Failed   int     `json:"failed"`
		Skipped  int     `json:"skipped"`
		Duration float64 `json:"duration"`
	} `json:"summary"`
}

type xunitReport struct {
	Total     int     `json:"total"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Time      float64 `json:"time"`
	TestCases []struct {
		Name         string  `json:"name"`
		Result       string  `json:"result"`
		Time         float64 `json:"time"`
		ErrorMessage string  `json:"errorMessage"`
	} `json:"testCases"`
}

type jestReport struct {
	Success        bool `json:"success"`
	NumTotalTests  int  `json:"numTotalTests"`
	NumPassedTests int  `json:"numPassedTests"`
	NumFailedTests int  `json:"numFailedTests"`
	TestResults    []struct {
		Name             string `json:"name"`
		Status           string `json:"status"`
		Message          string `json:"message"`
		AssertionResults []struct {
			Status          string   `json:"status"`
			Title           string   `json:"title"`
			FullName        string   `json:"fullName"`
			Duration        *float64 `json:"duration"`
			FailureMessages []string `json:"failureMessages"`
		} `json:"assertionResults"`
	} `json:"testResults"`
}

func decodeReport(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errEmptyReport
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	return nil
}

// parsePytest reads the pytest-json-report format
func parsePytest(data []byte) (report, error) {
	var r pytestReport
	if err := decodeReport(data, &r); err != nil {
		return report{}, err
	}

	rep := report{
		success: r.Summary.Failed == 0 && r.Summary.Error == 0,
		pureMs:  r.Summary.Duration * 1000,
	}
	for _, tc := range r.Tests {
		passed := tc.Outcome == "passed"
		msg := passedMessage
		if !passed {
			msg = "Test failed"
			if tc.Message != nil {
				msg = *tc.Message
			}
		}
		rep.cases = append(rep.cases, model.TestCaseResult{TestName: tc.Name, Passed: passed, Message: msg})
	}
	return rep, nil
}

// parseGoTest reads the summary written by the go test image
func parseGoTest(data []byte) (report, error) {
	var r goTestReport
	if err := decodeReport(data, &r); err != nil {
		return report{}, err
	}

	// a report without a summary cannot prove that nothing failed
	rep := report{success: false}
	if r.Summary != nil {
		rep.success = r.Summary.Failed == 0
		rep.pureMs = r.Summary.Duration * 1000
	}

	for _, tc := range r.Tests {
		if tc == nil {
			rep.cases = append(rep.cases, model.TestCaseResult{TestName: "Unknown Test", Message: "Test failed"})
			continue
		}
		passed := tc.Action == "pass"
		msg := passedMessage
		if !passed {
			msg = "Test failed"
			if tc.Output != nil {
				msg = *tc.Output
			}
		}
		rep.cases = append(rep.cases, model.TestCaseResult{TestName: tc.Name, Passed: passed, Message: msg})
	}
	return rep, nil
}

// parseXUnit reads the summary written by the xunit image
func parseXUnit(data []byte) (report, error) {
	var r xunitReport
	if err := decodeReport(data, &r); err != nil {
		return report{}, err
	}

	rep := report{
		success: r.Failed == 0,
		pureMs:  r.Time * 1000,
	}
	for _, tc := range r.TestCases {
		passed := tc.Result == "Pass"
		msg := passedMessage
		if !passed {
			msg = tc.ErrorMessage
		}
		rep.cases = append(rep.cases, model.TestCaseResult{TestName: tc.Name, Passed: passed, Message: msg})
	}
	return rep, nil
}

// parseJest reads jest's --json output
func parseJest(data []byte) (report, error) {
	var r jestReport
	if err := decodeReport(data, &r); err != nil {
		return report{}, err
	}

	rep := report{success: r.Success}
	for _, file := range r.TestResults {
		for _, a := range file.AssertionResults {
			name := a.FullName
			if name == "" {
				name = a.Title
			}
			passed := a.Status == "passed"
			msg := passedMessage
			if !passed {
				msg = strings.Join(a.FailureMessages, "\n")
			}
			if a.Duration != nil {
				rep.pureMs += *a.Duration
			}
			rep.cases = append(rep.cases, model.TestCaseResult{TestName: name, Passed: passed, Message: msg})
		}
	}
	return rep, nil
}
