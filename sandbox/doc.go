// Package sandbox runs untrusted code in throwaway containers.
//
// A Backend creates, runs, executes into and removes containers. Two
// implementations exist: DockerBackend talks to the Docker Engine API and
// CLIBackend shells out to a docker compatible binary such as podman. Every
// container is labelled with LabelManaged so that leftovers from a crashed
// process can be removed with Prune on startup.
//
// Files move between host and container either through a bind mount of an
// ExecutionDir or through tar streams (CopyTo and CopyFrom) when the
// container was started before the files existed.
//
// Usage:
//
//	backend, err := sandbox.NewBackend(cfg, logger)
//	out, err := backend.Run(ctx, sandbox.Config{
//	    Image:     "jhypki/ascenddev-python-tester:latest",
//	    HostDir:   dir.Path,
//	    MountPath: "/app/test",
//	    Cmd:       []string{"sh", "-c", "/app/run-tests.sh"},
//	}, 10*time.Second)
package sandbox
