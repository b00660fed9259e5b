// internal/inference/inference.go
package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Options configures how the ONNX model is opened.
type Options struct {
	// LibraryPath points at libonnxruntime; empty uses the platform default.
	LibraryPath string
	// InputName and OutputName select the graph nodes; empty detects them
	// from the first model input and output.
	InputName  string
	OutputName string
	// NumClasses is the width of the output vector; zero reads it from the model.
	NumClasses int64
}

// Inference wraps an ONNX runtime session for concurrent inference.
// It implements the InferenceEngine interface.
type Inference struct {
	mu         sync.RWMutex
	session    *ort.DynamicAdvancedSession
	numClasses int64
	inputName  string
	outputName string
}

// New creates a new Inference instance by loading the ONNX model from modelPath
func New(modelPath string, opts Options) (*Inference, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("failed to open model artifact: %w", err)
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}

	// Initialize the ONNX runtime environment
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputName, outputName, numClasses, err := resolveIO(modelPath, opts)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		nil, // Use default session options
	)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Inference{
		session:    session,
		numClasses: numClasses,
		inputName:  inputName,
		outputName: outputName,
	}, nil
}

// resolveIO fills in node names and output width missing from opts by
// inspecting the model graph.
func resolveIO(modelPath string, opts Options) (string, string, int64, error) {
	inputName, outputName, numClasses := opts.InputName, opts.OutputName, opts.NumClasses
	if inputName != "" && outputName != "" && numClasses > 0 {
		return inputName, outputName, numClasses, nil
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to read model inputs and outputs: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", "", 0, fmt.Errorf("model has %d inputs and %d outputs, expected at least one of each", len(inputs), len(outputs))
	}

	if inputName == "" {
		inputName = inputs[0].Name
	}

	out := outputs[0]
	if outputName == "" {
		outputName = out.Name
	} else {
		for _, o := range outputs {
			if o.Name == outputName {
				out = o
				break
			}
		}
	}

	if numClasses <= 0 {
		dims := out.Dimensions
		if len(dims) == 0 || dims[len(dims)-1] <= 0 {
			return "", "", 0, fmt.Errorf("cannot determine class count from output %q with shape %v", outputName, dims)
		}
		numClasses = dims[len(dims)-1]
	}

	return inputName, outputName, numClasses, nil
}

// Predict runs inference on a single batched input tensor.
// input: flattened tensor of the given shape, batch dimension first
// Returns flattened scores of length batch * numClasses
func (inf *Inference) Predict(input []float32, shape []int64) ([]float32, error) {
	inf.mu.RLock()
	defer inf.mu.RUnlock()

	if inf.session == nil {
		return nil, fmt.Errorf("inference session is nil")
	}

	if len(shape) == 0 || shape[0] <= 0 {
		return nil, fmt.Errorf("input shape %v has no batch dimension", shape)
	}
	if want := elements(shape); int64(len(input)) != want {
		return nil, fmt.Errorf("input has wrong size: got %d, expected %d for shape %v", len(input), want, shape)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	// Output tensor with shape [batch, numClasses]
	batch := shape[0]
	outputData := make([]float32, batch*inf.numClasses)
	outputTensor, err := ort.NewTensor(ort.NewShape(batch, inf.numClasses), outputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = inf.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return outputData, nil
}

// NumClasses returns the width of the model output.
func (inf *Inference) NumClasses() int64 {
	return inf.numClasses
}

// Close releases the ONNX session resources
func (inf *Inference) Close() error {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session != nil {
		err := inf.session.Destroy()
		inf.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
		return ort.DestroyEnvironment()
	}

	return nil
}

// Ensure Inference implements InferenceEngine at compile time
var _ InferenceEngine = (*Inference)(nil)

// Digest returns a short SHA-256 fingerprint of the model file, used to tell
// artifacts apart across restarts.
func Digest(modelPath string) (string, error) {
	f, err := os.Open(modelPath)
	if err != nil {
		return "", fmt.Errorf("failed to open model artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read model artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
