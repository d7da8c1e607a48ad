package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/execution"
	"github.com/ascenddev/coderunner/model"
	"github.com/ascenddev/coderunner/pool"
	"github.com/ascenddev/coderunner/template"
)

// Grader runs graded and playground submissions
type Grader interface {
	Submit(ctx context.Context, sub execution.Submission) (model.TestResult, error)
	Run(ctx context.Context, language, code string) (model.CodeExecutionResult, error)
}

// KeywordValidator checks keyword requirements
type KeywordValidator interface {
	Validate(ctx context.Context, code, language string, requirements []model.KeywordRequirement) (model.KeywordValidationResult, error)
}

// TemplateEngine implements the code template operations
type TemplateEngine interface {
	Merge(tpl *model.CodeTemplate, content map[string]string) string
	ValidateEditableRegions(tpl *model.CodeTemplate, content map[string]string) model.TemplateValidationResult
	ExtractEditableRegions(tpl *model.CodeTemplate, code string) map[string]string
	ExtractEditableRegionsStrict(tpl *model.CodeTemplate, code string) (map[string]string, error)
	FromLegacy(text, language, marker string) (model.CodeTemplate, error)
}

// PoolStats reports sandbox pool occupancy
type PoolStats interface {
	Stats() []pool.KeyStats
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	grader     Grader
	keywords   KeywordValidator
	templates  TemplateEngine
	pool       PoolStats
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer. stats may be nil when pooling is disabled.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	grader Grader,
	keywords KeywordValidator,
	templates TemplateEngine,
	stats PoolStats,
) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger.Named("mcp"),
		grader:    grader,
		keywords:  keywords,
		templates: templates,
		pool:      stats,
	}

	// Log configuration parameters on startup
	s.logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.work_dir", cfg.Sandbox.WorkDir),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.Int64("sandbox.process_limit", cfg.Sandbox.ProcessLimit),
		zap.Bool("pool.enabled", cfg.Pool.Enabled),
		zap.Duration("execution.timeout_grace", cfg.Execution.TimeoutGrace),
		zap.Bool("execution.sanitize", cfg.Execution.Sanitize),
		zap.Strings("languages", s.languages()),
	)

	s.mcpServer = server.NewMCPServer("coderunner", "Sandboxed code execution and grading")

	s.registerTools()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	return s, nil
}

func (s *MCPServer) registerTools() {
	languages := s.languages()

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "execute_code",
		Description: "Run code once in the language's playground sandbox and return its output",
		InputSchema: objectSchema(map[string]any{
			"code":     stringProperty("Source code to run"),
			"language": enumProperty("Language of the code", languages),
		}, "code", "language"),
	}, s.handleExecuteCode)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "run_tests",
		Description: "Grade a submission against a lesson's tests and keyword requirements",
		InputSchema: objectSchema(map[string]any{
			"lesson": map[string]any{
				"type":        "object",
				"description": "Lesson with language, testConfig and an optional codeTemplate",
			},
			"code": stringProperty("Complete source code of the submission"),
			"editable_regions": map[string]any{
				"type":        "object",
				"description": "Content of the template's editable regions keyed by region id",
			},
		}, "lesson"),
	}, s.handleRunTests)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "validate_keywords",
		Description: "Check that code uses the required keywords the required number of times",
		InputSchema: objectSchema(map[string]any{
			"code":     stringProperty("Source code to analyze"),
			"language": stringProperty("Language of the code"),
			"requirements": map[string]any{
				"type":        "array",
				"description": "Keyword requirements",
				"items":       map[string]any{"type": "object"},
			},
		}, "code", "language", "requirements"),
	}, s.handleValidateKeywords)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "merge_template",
		Description: "Merge editable region content into a code template",
		InputSchema: objectSchema(map[string]any{
			"template": templateProperty(),
			"regions":  regionsProperty(),
		}, "template"),
	}, s.handleMergeTemplate)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "validate_template_regions",
		Description: "Check that submitted regions match the template's editable regions",
		InputSchema: objectSchema(map[string]any{
			"template": templateProperty(),
			"regions":  regionsProperty(),
		}, "template", "regions"),
	}, s.handleValidateTemplateRegions)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "extract_template_regions",
		Description: "Recover editable region content from complete source code",
		InputSchema: objectSchema(map[string]any{
			"template": templateProperty(),
			"code":     stringProperty("Complete source code"),
			"strict": map[string]any{
				"type":        "boolean",
				"description": "Fail on missing or repeated fixed regions instead of guessing",
			},
		}, "template", "code"),
	}, s.handleExtractTemplateRegions)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "convert_legacy_template",
		Description: "Convert a single-string template with markers into a region template",
		InputSchema: objectSchema(map[string]any{
			"text":     stringProperty("Legacy template text"),
			"language": stringProperty("Language of the template"),
			"marker":   stringProperty("Marker separating fixed parts, default " + template.DefaultLegacyMarker),
		}, "text", "language"),
	}, s.handleConvertLegacyTemplate)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "pool_stats",
		Description: "Report idle and in-use prewarmed sandboxes per language",
		InputSchema: objectSchema(map[string]any{}),
	}, s.handlePoolStats)
}

func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	s.logger.Info("code execution requested", zap.String("language", language))

	result, err := s.grader.Run(ctx, language, code)
	if err != nil {
		s.logger.Error("code execution failed", zap.String("language", language), zap.Error(err))
		return errorResult("Execution failed: %v", err), nil
	}

	s.logger.Info("code execution completed",
		zap.String("language", language),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	return jsonResult(result)
}

func (s *MCPServer) handleRunTests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sub execution.Submission
	if err := bindArgument(request, "lesson", &sub.Lesson, true); err != nil {
		return nil, err
	}
	if err := bindArgument(request, "editable_regions", &sub.EditableRegions, false); err != nil {
		return nil, err
	}
	sub.Code = request.GetString("code", "")

	s.logger.Info("test run requested",
		zap.String("lesson", sub.Lesson.ID),
		zap.String("language", sub.Lesson.Language),
		zap.Bool("template", len(sub.EditableRegions) > 0))

	result, err := s.grader.Submit(ctx, sub)
	if err != nil {
		s.logger.Error("test run failed", zap.String("lesson", sub.Lesson.ID), zap.Error(err))
		return errorResult("Test run failed: %v", err), nil
	}

	s.logger.Info("test run completed",
		zap.String("lesson", sub.Lesson.ID),
		zap.Bool("success", result.Success),
		zap.Int("passed", result.PassedCount()),
		zap.Int("total", len(result.TestResults)))

	return jsonResult(result)
}

func (s *MCPServer) handleValidateKeywords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	var requirements []model.KeywordRequirement
	if err := bindArgument(request, "requirements", &requirements, true); err != nil {
		return nil, err
	}

	result, err := s.keywords.Validate(ctx, code, language, requirements)
	if err != nil {
		return errorResult("Keyword validation failed: %v", err), nil
	}

	return jsonResult(result)
}

func (s *MCPServer) handleMergeTemplate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		tpl     *model.CodeTemplate
		regions map[string]string
	)
	if err := bindArgument(request, "template", &tpl, true); err != nil {
		return nil, err
	}
	if err := bindArgument(request, "regions", &regions, false); err != nil {
		return nil, err
	}

	return jsonResult(map[string]string{"code": s.templates.Merge(tpl, regions)})
}

func (s *MCPServer) handleValidateTemplateRegions(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		tpl     *model.CodeTemplate
		regions map[string]string
	)
	if err := bindArgument(request, "template", &tpl, true); err != nil {
		return nil, err
	}
	if err := bindArgument(request, "regions", &regions, true); err != nil {
		return nil, err
	}

	return jsonResult(s.templates.ValidateEditableRegions(tpl, regions))
}

func (s *MCPServer) handleExtractTemplateRegions(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var tpl *model.CodeTemplate
	if err := bindArgument(request, "template", &tpl, true); err != nil {
		return nil, err
	}

	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	if !request.GetBool("strict", false) {
		return jsonResult(s.templates.ExtractEditableRegions(tpl, code))
	}

	regions, err := s.templates.ExtractEditableRegionsStrict(tpl, code)
	if err != nil {
		return errorResult("Region extraction failed: %v", err), nil
	}
	return jsonResult(regions)
}

func (s *MCPServer) handleConvertLegacyTemplate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return nil, fmt.Errorf("text parameter is required: %w", err)
	}

	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}

	tpl, err := s.templates.FromLegacy(text, language, request.GetString("marker", ""))
	if err != nil {
		return errorResult("Template conversion failed: %v", err), nil
	}

	return jsonResult(tpl)
}

func (s *MCPServer) handlePoolStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := []pool.KeyStats{}
	if s.pool != nil {
		stats = s.pool.Stats()
	}
	return jsonResult(map[string]any{
		"enabled": s.pool != nil,
		"pools":   stats,
	})
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport
func (s *MCPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MCPServer) languages() []string {
	return slices.Sorted(maps.Keys(s.config.Languages))
}

// bindArgument decodes the JSON value of argument name into target
func bindArgument(request mcp.CallToolRequest, name string, target any, required bool) error {
	value, ok := request.GetArguments()[name]
	if !ok || value == nil {
		if required {
			return fmt.Errorf("%s parameter is required", name)
		}
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}, nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: fmt.Sprintf(format, args...),
			},
		},
		IsError: true,
	}
}

func objectSchema(properties map[string]any, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func stringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

func enumProperty(description string, values []string) map[string]any {
	p := stringProperty(description)
	p["enum"] = values
	return p
}

func templateProperty() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Code template with ordered regions",
	}
}

func regionsProperty() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Region content keyed by region id",
	}
}
