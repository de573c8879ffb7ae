package command

import (
	"os/exec"

	"github.com/stretchr/testify/mock"
)

// MockRunner is a testify mock implementation of Runner.
// LookPath is not mocked: every tool is present unless listed in Absent.
type MockRunner struct {
	mock.Mock
	Absent map[string]bool
}

func (m *MockRunner) Output(name string, args ...string) (string, error) {
	callArgs := make([]interface{}, 0, len(args)+1)
	callArgs = append(callArgs, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	result := m.Called(callArgs...)
	return result.String(0), result.Error(1)
}

func (m *MockRunner) LookPath(name string) (string, error) {
	if m.Absent[name] {
		return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
	}
	return "/usr/bin/" + name, nil
}

// Missing marks tools as absent from PATH.
func (m *MockRunner) Missing(names ...string) *MockRunner {
	if m.Absent == nil {
		m.Absent = make(map[string]bool)
	}
	for _, n := range names {
		m.Absent[n] = true
	}
	return m
}
