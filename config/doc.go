// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files, a .env file and CODERUNNER_* environment
// variables. It covers the MCP server, the container backend, the prewarmed
// sandbox pool, orchestrator timeouts, per-language images and the NATS worker.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
