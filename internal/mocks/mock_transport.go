// Package mocks provides testify mocks for the domain ports.
package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/davidbz/sglang-relay/internal/domain"
)

// MockTransport is a mock implementation of domain.Transport.
type MockTransport struct {
	mock.Mock
}

// NewMockTransport creates a MockTransport whose expectations are asserted on cleanup.
func NewMockTransport(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTransport {
	m := &MockTransport{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// Send provides a mock function.
func (m *MockTransport) Send(ctx context.Context, req *domain.ChatRequest) (json.RawMessage, error) {
	args := m.Called(ctx, req)

	var resp json.RawMessage
	if v := args.Get(0); v != nil {
		resp = v.(json.RawMessage)
	}

	return resp, args.Error(1)
}

// Stream provides a mock function.
func (m *MockTransport) Stream(ctx context.Context, req *domain.ChatRequest) (domain.EventStream, error) {
	args := m.Called(ctx, req)

	var stream domain.EventStream
	if v := args.Get(0); v != nil {
		stream = v.(domain.EventStream)
	}

	return stream, args.Error(1)
}

// BaseURL provides a mock function.
func (m *MockTransport) BaseURL() string {
	args := m.Called()
	return args.String(0)
}
