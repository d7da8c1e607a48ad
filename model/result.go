package model

// Names of the synthetic test cases produced when a run cannot be graded normally
const (
	CaseExecutionError   = "Execution Error"
	CaseTimeoutError     = "Timeout Error"
	CaseParserError      = "Parser Error"
	CaseEnvironmentError = "Environment Error"
	CaseLanguageError    = "Language Error"
	CaseSystemError      = "System Error"
	CaseDefaultTest      = "Default Test"
	CaseRequestError     = "Request Validation"
	CaseTemplateError    = "Template Region Validation"
	CaseCodeValidation   = "Code Validation"
)

// ExitCodeTimeout is reported for runs killed at the deadline
const ExitCodeTimeout = 124

// TestCaseResult is the verdict of one test
type TestCaseResult struct {
	TestName string `json:"testName" yaml:"testName"`
	Passed   bool   `json:"passed" yaml:"passed"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`
}

// TestResult is the outcome of a graded run
type TestResult struct {
	Success           bool                     `json:"success" yaml:"success"`
	Stdout            string                   `json:"stdout" yaml:"stdout"`
	Stderr            string                   `json:"stderr" yaml:"stderr"`
	ExitCode          int                      `json:"exitCode" yaml:"exitCode"`
	CompilationOutput string                   `json:"compilationOutput,omitempty" yaml:"compilationOutput,omitempty"`
	TimedOut          bool                     `json:"timedOut" yaml:"timedOut"`
	TestResults       []TestCaseResult         `json:"testResults" yaml:"testResults"`
	KeywordValidation *KeywordValidationResult `json:"keywordValidation,omitempty" yaml:"keywordValidation,omitempty"`
	Performance       *PerformanceMetrics      `json:"performance,omitempty" yaml:"performance,omitempty"`
}

// FailedTestResult builds a result holding a single failed synthetic case
func FailedTestResult(name, message string) TestResult {
	return TestResult{
		Success:  false,
		ExitCode: -1,
		Stderr:   message,
		TestResults: []TestCaseResult{
			{TestName: name, Passed: false, Message: message},
		},
	}
}

// PassedCount returns the number of passing cases
func (r *TestResult) PassedCount() int {
	n := 0
	for _, tc := range r.TestResults {
		if tc.Passed {
			n++
		}
	}
	return n
}

// CodeExecutionResult is the outcome of a playground run
type CodeExecutionResult struct {
	Success           bool                `json:"success" yaml:"success"`
	Stdout            string              `json:"stdout" yaml:"stdout"`
	Stderr            string              `json:"stderr" yaml:"stderr"`
	ExitCode          int                 `json:"exitCode" yaml:"exitCode"`
	ExecutionTimeMs   int64               `json:"executionTimeMs" yaml:"executionTimeMs"`
	CompilationOutput string              `json:"compilationOutput,omitempty" yaml:"compilationOutput,omitempty"`
	TimedOut          bool                `json:"timedOut" yaml:"timedOut"`
	Performance       *PerformanceMetrics `json:"performance,omitempty" yaml:"performance,omitempty"`
}

// PerformanceMetrics breaks the wall time of one attempt into phases
type PerformanceMetrics struct {
	ExecutionTimeMs          float64            `json:"executionTimeMs" yaml:"executionTimeMs"`
	PureTestExecutionTimeMs  float64            `json:"pureTestExecutionTimeMs" yaml:"pureTestExecutionTimeMs"`
	ContainerStartupTimeMs   float64            `json:"containerStartupTimeMs" yaml:"containerStartupTimeMs"`
	ContainerCleanupTimeMs   float64            `json:"containerCleanupTimeMs" yaml:"containerCleanupTimeMs"`
	FilePreparationTimeMs    float64            `json:"filePreparationTimeMs" yaml:"filePreparationTimeMs"`
	ContainerExecutionTimeMs float64            `json:"containerExecutionTimeMs" yaml:"containerExecutionTimeMs"`
	InfrastructureOverheadMs float64            `json:"infrastructureOverheadMs" yaml:"infrastructureOverheadMs"`
	MemoryUsageMB            float64            `json:"memoryUsageMb" yaml:"memoryUsageMb"`
	CPUUsagePercent          float64            `json:"cpuUsagePercent" yaml:"cpuUsagePercent"`
	TestCount                int                `json:"testCount" yaml:"testCount"`
	AverageTestTimeMs        float64            `json:"averageTestTimeMs" yaml:"averageTestTimeMs"`
	AdditionalMetrics        map[string]float64 `json:"additionalMetrics,omitempty" yaml:"additionalMetrics,omitempty"`
}

// Finalize derives InfrastructureOverheadMs and AverageTestTimeMs from the
// measured phases.
func (p *PerformanceMetrics) Finalize() {
	p.InfrastructureOverheadMs = p.ExecutionTimeMs - p.PureTestExecutionTimeMs
	if p.InfrastructureOverheadMs < 0 {
		p.InfrastructureOverheadMs = 0
	}
	if p.TestCount > 0 {
		p.AverageTestTimeMs = p.ExecutionTimeMs / float64(p.TestCount)
	} else {
		p.AverageTestTimeMs = 0
	}
}

// AddMetric records a named extra measurement
func (p *PerformanceMetrics) AddMetric(name string, value float64) {
	if p.AdditionalMetrics == nil {
		p.AdditionalMetrics = make(map[string]float64)
	}
	p.AdditionalMetrics[name] = value
}
