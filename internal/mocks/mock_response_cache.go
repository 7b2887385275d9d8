package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
)

// MockResponseCache is a mock implementation of domain.ResponseCache.
type MockResponseCache struct {
	mock.Mock
}

// NewMockResponseCache creates a MockResponseCache whose expectations are asserted on cleanup.
func NewMockResponseCache(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockResponseCache {
	m := &MockResponseCache{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// Get provides a mock function.
func (m *MockResponseCache) Get(ctx context.Context, key string) (json.RawMessage, error) {
	args := m.Called(ctx, key)

	var resp json.RawMessage
	if v := args.Get(0); v != nil {
		resp = v.(json.RawMessage)
	}

	return resp, args.Error(1)
}

// Set provides a mock function.
func (m *MockResponseCache) Set(ctx context.Context, key string, response json.RawMessage) error {
	args := m.Called(ctx, key, response)
	return args.Error(0)
}
