// Package main is the entry point for the coderunner server.
//
// The server executes and grades untrusted learner code for AscendDev lessons
// in disposable containers. Python, Go, C#, TypeScript and JavaScript are
// supported through per-language strategies. Graded submissions may run in
// prewarmed pooled sandboxes. Operations are exposed as MCP tools over stdio
// or streamable HTTP and, optionally, as NATS request/reply subjects.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
