// Package mocks provides testify mocks of the application ports.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/domain/events"
)

// MockEventPublisher is a mock implementation of ports.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

// MockGroupLocker is a mock implementation of ports.GroupLocker
type MockGroupLocker struct {
	mock.Mock
}

func (m *MockGroupLocker) Acquire(ctx context.Context, req ports.LockRequest) (func(), error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

var (
	_ ports.EventPublisher = (*MockEventPublisher)(nil)
	_ ports.GroupLocker    = (*MockGroupLocker)(nil)
)
