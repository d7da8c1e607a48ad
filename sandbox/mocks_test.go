package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type mockResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu             sync.Mutex
	commandResults map[string]mockResult
	defaultResult  mockResult
	// blocking commands wait for the context to end, like a hung container
	blocking map[string]bool
	calls    [][]string
}

func cmdKey(args ...string) string {
	key := ""
	for _, arg := range args {
		key += arg + " "
	}
	return key
}

func (m *MockCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	key := cmdKey(args...)

	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), args...))
	block := m.blocking[key]
	result, exists := m.commandResults[key]
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return "partial", "", -1, nil
	}
	if exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}
	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) called(prefix ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := cmdKey(prefix...)
	for _, call := range m.calls {
		if strings.HasPrefix(cmdKey(call...), want) {
			return true
		}
	}
	return false
}

func (m *MockCommandRunner) lastCall() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// MockFileSystem implements FileSystem in memory
type MockFileSystem struct {
	mu             sync.Mutex
	dirs           map[string]bool
	files          map[string][]byte
	mkdirAllErrors map[string]error
	removed        []string
}

func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		dirs:  make(map[string]bool),
		files: make(map[string][]byte),
	}
}

func (m *MockFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, exists := m.mkdirAllErrors[path]; exists {
		return err
	}
	m.dirs[filepath.Clean(path)] = true
	return nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[filepath.Clean(filename)] = append([]byte(nil), data...)
	return nil
}

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[filepath.Clean(filename)]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", filename, os.ErrNotExist)
	}
	return data, nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	m.removed = append(m.removed, path)
	for name := range m.files {
		if name == path || strings.HasPrefix(name, path+string(filepath.Separator)) {
			delete(m.files, name)
		}
	}
	for name := range m.dirs {
		if name == path || strings.HasPrefix(name, path+string(filepath.Separator)) {
			delete(m.dirs, name)
		}
	}
	return nil
}

func (m *MockFileSystem) FileExists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	_, isFile := m.files[path]
	return isFile || m.dirs[path], nil
}

func (m *MockFileSystem) fileNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
