// internal/inference/interface.go
package inference

// InferenceEngine defines the interface for running a classifier forward pass.
// This abstraction allows for easy mocking in tests and swapping implementations.
type InferenceEngine interface {
	// Predict runs the model on a single input tensor.
	// input: flattened tensor data in row-major order
	// shape: tensor dimensions, e.g. (1, H, W, 3)
	// Returns the flattened output scores, one per class.
	Predict(input []float32, shape []int64) ([]float32, error)

	// Close releases any resources held by the inference engine.
	Close() error
}

// elements returns the number of values a tensor of the given shape holds.
func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
