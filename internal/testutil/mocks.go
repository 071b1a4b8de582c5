package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"sharp-job-service/internal/collaborator"
)

type MockReconstructor struct {
	mock.Mock
}

func (m *MockReconstructor) Reconstruct(ctx context.Context, p collaborator.MeshParams) (collaborator.MeshStats, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(collaborator.MeshStats), args.Error(1)
}
