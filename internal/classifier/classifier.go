// Package classifier holds the loaded fundus model and answers predictions.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/fundus-service/internal/inference"
	"github.com/SyedDaiam9101/fundus-service/internal/metrics"
	"github.com/SyedDaiam9101/fundus-service/internal/preprocess"
	"github.com/SyedDaiam9101/fundus-service/internal/requestid"
)

// Labels is the training-time class order; index i names model output i.
var Labels = []string{"cataract", "diabetic_retinopathy", "glaucoma", "normal"}

// Prediction is the top class for one image.
type Prediction struct {
	Class      string  `json:"predicted_class"`
	Confidence float64 `json:"confidence"`
}

// PredictionCache stores serialized predictions by key.
// A miss returns "" and a nil error.
type PredictionCache interface {
	GetPrediction(ctx context.Context, key string) (string, error)
	SetPrediction(ctx context.Context, key, data string, ttl time.Duration) error
}

// unversionedModel names the model in cache keys when Config.ModelID is empty.
const unversionedModel = "unversioned"

// Config carries the build-time shape of the classifier.
type Config struct {
	Labels []string
	Height int
	Width  int

	// ModelID identifies the loaded artifact, usually inference.Digest of
	// the model file. Cached predictions are only shared between
	// classifiers with the same ModelID, input size and labels.
	ModelID  string
	Cache    PredictionCache
	CacheTTL time.Duration
}

// Classifier is created once at startup and shared by all requests.
// engine is nil when the model failed to load.
type Classifier struct {
	engine   inference.InferenceEngine
	loadErr  error
	labels   []string
	pre      *preprocess.Preprocessor
	cache    PredictionCache
	cacheNS  string
	cacheTTL time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New builds a Classifier. Pass a nil engine and the load error to run in
// degraded mode.
func New(engine inference.InferenceEngine, loadErr error, cfg Config, logger *zap.Logger) *Classifier {
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = Labels
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil && loadErr == nil {
		loadErr = ErrModelNotLoaded
	}

	if engine != nil {
		metrics.SetModelLoaded(true)
	} else {
		metrics.SetModelLoaded(false)
	}

	pre := preprocess.New(cfg.Height, cfg.Width)

	return &Classifier{
		engine:   engine,
		loadErr:  loadErr,
		labels:   labels,
		pre:      pre,
		cache:    cfg.Cache,
		cacheNS:  cacheNamespace(cfg.ModelID, pre, labels),
		cacheTTL: cfg.CacheTTL,
		logger:   logger,
		tracer:   otel.Tracer("github.com/SyedDaiam9101/fundus-service/internal/classifier"),
	}
}

// cacheNamespace scopes cache keys to everything that shapes a prediction
// besides the image itself.
func cacheNamespace(modelID string, pre *preprocess.Preprocessor, labels []string) string {
	if modelID == "" {
		modelID = unversionedModel
	}
	sum := sha256.Sum256([]byte(strings.Join(labels, "\n")))
	return fmt.Sprintf("%s:%dx%d:%s", modelID, pre.Height(), pre.Width(), hex.EncodeToString(sum[:4]))
}

// Loaded reports whether a model is available.
func (c *Classifier) Loaded() bool {
	return c.engine != nil
}

// LoadError returns why the model is unavailable, or nil.
func (c *Classifier) LoadError() error {
	if c.engine != nil {
		return nil
	}
	return c.loadErr
}

// Labels returns the label set in model output order.
func (c *Classifier) Labels() []string {
	return c.labels
}

// Predict classifies one uploaded image.
func (c *Classifier) Predict(ctx context.Context, data []byte) (*Prediction, error) {
	ctx, span := c.tracer.Start(ctx, "classifier.Predict",
		trace.WithAttributes(attribute.Int("image.bytes", len(data))))
	defer span.End()

	requestID := requestid.FromContext(ctx)

	pred, err := c.predict(ctx, data)
	if err != nil {
		kind := KindOf(err)
		metrics.RecordPredictionError(kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("prediction failed",
			zap.String("request_id", requestID),
			zap.String("kind", kind.String()),
			zap.Error(err))
		return nil, err
	}

	metrics.RecordPrediction(pred.Class)
	span.SetAttributes(
		attribute.String("prediction.class", pred.Class),
		attribute.Float64("prediction.confidence", pred.Confidence))
	c.logger.Info("image predicted",
		zap.String("request_id", requestID),
		zap.String("predicted_class", pred.Class),
		zap.Float64("confidence", pred.Confidence))

	return pred, nil
}

func (c *Classifier) predict(ctx context.Context, data []byte) (*Prediction, error) {
	if c.engine == nil {
		return nil, ErrModelNotLoaded
	}

	key := ""
	if c.cache != nil && len(data) > 0 {
		key = c.cacheKey(data)
		if pred, ok := c.lookup(ctx, key); ok {
			return pred, nil
		}
	}

	_, span := c.tracer.Start(ctx, "preprocess")
	tensor, format, err := c.pre.FromBytes(data)
	span.SetAttributes(attribute.String("image.format", format))
	span.End()
	if err != nil {
		return nil, decodeError(err)
	}

	_, span = c.tracer.Start(ctx, "inference")
	start := time.Now()
	scores, err := c.engine.Predict(tensor.Data, tensor.Shape[:])
	metrics.RecordInferenceLatency(time.Since(start).Seconds())
	span.End()
	if err != nil {
		return nil, inferenceError(err)
	}

	pred, err := c.top(scores)
	if err != nil {
		return nil, inferenceError(err)
	}

	if key != "" {
		c.store(ctx, key, pred)
	}

	return pred, nil
}

// top picks the first index holding the maximum score.
func (c *Classifier) top(scores []float32) (*Prediction, error) {
	if len(scores) != len(c.labels) {
		return nil, fmt.Errorf("model returned %d scores for %d labels", len(scores), len(c.labels))
	}

	best := 0
	for i, v := range scores {
		if math.IsNaN(float64(v)) {
			return nil, fmt.Errorf("model returned NaN score for %s", c.labels[i])
		}
		if v > scores[best] {
			best = i
		}
	}

	return &Prediction{
		Class:      c.labels[best],
		Confidence: float64(scores[best]),
	}, nil
}

// cacheKey is <model>:<H>x<W>:<labels>:<sha256 of image>.
func (c *Classifier) cacheKey(data []byte) string {
	sum := sha256.Sum256(data)
	return c.cacheNS + ":" + hex.EncodeToString(sum[:])
}

func (c *Classifier) lookup(ctx context.Context, key string) (*Prediction, bool) {
	data, err := c.cache.GetPrediction(ctx, key)
	if err != nil {
		c.logger.Warn("prediction cache read failed", zap.Error(err))
		return nil, false
	}
	if data == "" {
		metrics.RecordCacheLookup(false)
		return nil, false
	}

	var pred Prediction
	if err := json.Unmarshal([]byte(data), &pred); err != nil {
		c.logger.Warn("discarding malformed cached prediction", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	metrics.RecordCacheLookup(true)
	return &pred, true
}

func (c *Classifier) store(ctx context.Context, key string, pred *Prediction) {
	data, err := json.Marshal(pred)
	if err != nil {
		return
	}
	if err := c.cache.SetPrediction(ctx, key, string(data), c.cacheTTL); err != nil {
		c.logger.Warn("prediction cache write failed", zap.Error(err))
	}
}

// Close releases the model.
func (c *Classifier) Close() error {
	if c.engine == nil {
		return nil
	}
	return c.engine.Close()
}
