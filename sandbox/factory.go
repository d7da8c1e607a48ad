package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/config"
)

// NewBackend creates the sandbox backend selected by sandbox.backend
func NewBackend(cfg *config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Sandbox.Backend {
	case "docker":
		cli, err := NewDockerClient()
		if err != nil {
			return nil, err
		}
		return NewDockerBackend(cli, logger,
			WithDockerOutputLimit(cfg.OutputLimit()),
			WithImagePull(cfg.Sandbox.PullImages),
		), nil
	case "docker-cli":
		return NewCLIBackend("docker", logger,
			WithCLIOutputLimit(cfg.OutputLimit()),
			WithCLIImagePull(cfg.Sandbox.PullImages),
		), nil
	case "podman":
		return NewCLIBackend("podman", logger,
			WithCLIOutputLimit(cfg.OutputLimit()),
			WithCLIImagePull(cfg.Sandbox.PullImages),
		), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}
