// internal/handler/handler.go
package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/fundus-service/internal/classifier"
	"github.com/SyedDaiam9101/fundus-service/internal/middleware"
)

// StatusMessage is the plain-text body of GET /.
const StatusMessage = "Eye Disease Classifier Server is running. Send a POST request to /predict with an image file."

// ImageField is the multipart field carrying the upload.
const ImageField = "image"

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Error string `json:"error"`
}

// Handler serves the HTTP prediction API on top of a shared Classifier.
type Handler struct {
	classifier     *classifier.Classifier
	maxUploadBytes int64
	logger         *zap.Logger
}

// New creates a new Handler. maxUploadBytes <= 0 disables the body limit.
func New(c *classifier.Classifier, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		classifier:     c,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Index handles GET /
func (h *Handler) Index(c *gin.Context) {
	c.String(http.StatusOK, StatusMessage)
}

// Preflight handles OPTIONS /predict. It never touches the classifier.
func (h *Handler) Preflight(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Predict handles POST /predict with a multipart "image" file.
func (h *Handler) Predict(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("image exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(c, http.StatusBadRequest, "No image file provided")
		return
	}
	defer form.RemoveAll()

	header, err := imageFile(form)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	data, err := readFile(header)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Debug("received image",
		zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size))

	pred, err := h.classifier.Predict(c.Request.Context(), data)
	if err != nil {
		status, message := httpError(err)
		respondError(c, status, message)
		return
	}

	c.JSON(http.StatusOK, pred)
}

var (
	errNoImage     = errors.New("No image file provided")
	errNoSelection = errors.New("No selected file")
)

// imageFile returns the first file under ImageField. A field sent with an
// empty filename is parsed as a plain value, which means nothing was selected.
func imageFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if files := form.File[ImageField]; len(files) > 0 {
		if files[0].Filename == "" {
			return nil, errNoSelection
		}
		return files[0], nil
	}
	if _, ok := form.Value[ImageField]; ok {
		return nil, errNoSelection
	}
	return nil, errNoImage
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	return data, nil
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorBody{Error: message})
}
