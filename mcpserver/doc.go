// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The server exposes the grading pipeline as MCP tools:
//
//   - execute_code runs a snippet in the playground sandbox
//   - run_tests grades a submission against a lesson
//   - validate_keywords checks keyword requirements without running anything
//   - merge_template, validate_template_regions, extract_template_regions and
//     convert_legacy_template wrap the template engine
//   - pool_stats reports prewarmed sandbox occupancy
//
// Tool results are JSON documents in a single text content block. Failures of
// the underlying operation are returned as results with IsError set; missing
// or malformed arguments are returned as handler errors.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
package mcpserver
