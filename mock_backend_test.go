package assetgen

import (
	"context"
	"sync"
	"time"
)

// MockBackend is a mock implementation of Backend.
type MockBackend struct {
	KindValue  BackendKind
	InvokeFunc func(ctx context.Context, req *GenerationRequest) (*Image, error)
	CloseFunc  func() error

	mu      sync.Mutex
	invokes int
}

func (m *MockBackend) Kind() BackendKind {
	if m.KindValue != "" {
		return m.KindValue
	}
	return BackendTextToImage
}

func (m *MockBackend) Invoke(ctx context.Context, req *GenerationRequest) (*Image, error) {
	m.mu.Lock()
	m.invokes++
	m.mu.Unlock()
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	return &Image{Data: []byte("fake-image"), MIMEType: "image/png"}, nil
}

func (m *MockBackend) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Invocations reports how many times Invoke was called.
func (m *MockBackend) Invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invokes
}

// recordingSleeper records every requested delay without actually waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func (s *recordingSleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, d := range s.delays {
		total += d
	}
	return total
}
