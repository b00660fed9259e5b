// internal/inference/mock.go
package inference

import (
	"fmt"
	"sync"
)

// MockInference is a mock implementation of InferenceEngine for testing.
// It returns deterministic scores without requiring the ONNX shared library.
type MockInference struct {
	mu sync.Mutex

	// Scores are returned for each image in the batch
	Scores []float32
	// ShouldError if true, Predict will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Predict was called
	CallCount int
	// LastShape is the shape passed to the most recent Predict call
	LastShape []int64
}

// NewMock creates a new MockInference that favours the last of four classes
func NewMock() *MockInference {
	return NewMockWithScores([]float32{0.05, 0.1, 0.15, 0.7})
}

// NewMockWithScores creates a MockInference with custom per-image scores
func NewMockWithScores(scores []float32) *MockInference {
	return &MockInference{
		Scores: scores,
	}
}

// Predict returns Scores repeated for each image in the batch.
// It validates the input size against the shape.
func (m *MockInference) Predict(input []float32, shape []int64) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastShape = append([]int64(nil), shape...)

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
	}

	if len(shape) == 0 || shape[0] <= 0 {
		return nil, fmt.Errorf("input shape %v has no batch dimension", shape)
	}
	if want := elements(shape); int64(len(input)) != want {
		return nil, fmt.Errorf("input has wrong size: got %d, expected %d for shape %v", len(input), want, shape)
	}

	result := make([]float32, 0, int(shape[0])*len(m.Scores))
	for i := int64(0); i < shape[0]; i++ {
		result = append(result, m.Scores...)
	}

	return result, nil
}

// Calls returns the number of Predict calls so far
func (m *MockInference) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Close is a no-op for the mock implementation
func (m *MockInference) Close() error {
	return nil
}

// SetError configures the mock to return an error on the next Predict call
func (m *MockInference) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockInference) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Ensure MockInference implements InferenceEngine at compile time
var _ InferenceEngine = (*MockInference)(nil)
