package dispatch

import (
	"context"

	"github.com/stretchr/testify/mock"

	"grimm.is/foldwatch/internal/registry"
	"grimm.is/foldwatch/internal/router"
)

// MockExecutor is a mock implementation of Executor for testing.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, target router.Target, req router.Request) (router.Outcome, error) {
	args := m.Called(ctx, target, req)
	return args.Get(0).(router.Outcome), args.Error(1)
}

// MockConnectionInfo is a mock implementation of ConnectionInfo for testing.
type MockConnectionInfo struct {
	mock.Mock
}

func (m *MockConnectionInfo) Info(key registry.Key) (registry.Info, bool) {
	args := m.Called(key)
	return args.Get(0).(registry.Info), args.Bool(1)
}

// MockAuditor is a mock implementation of Auditor for testing.
type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) RecordWrite(ctx context.Context, caller string, req router.Request, res Result) error {
	args := m.Called(ctx, caller, req, res)
	return args.Error(0)
}
