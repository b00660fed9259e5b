// internal/handler/handler_test.go
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyedDaiam9101/fundus-service/internal/classifier"
	"github.com/SyedDaiam9101/fundus-service/internal/inference"
	"github.com/SyedDaiam9101/fundus-service/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testOrigin = "http://localhost:3000"

func newTestRouter(h *Handler, health *HealthHandler) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.CORS(testOrigin))
	router.GET("/", h.Index)
	router.POST("/predict", h.Predict)
	router.OPTIONS("/predict", h.Preflight)
	router.GET("/healthz", health.Healthz)
	router.GET("/readyz", health.Readyz)
	return router
}

func newLoaded(t *testing.T, mock *inference.MockInference) (*gin.Engine, *HealthHandler) {
	t.Helper()
	c := classifier.New(mock, nil, classifier.Config{Height: 16, Width: 16}, nil)
	health := NewHealthHandler(c)
	return newTestRouter(New(c, 1<<20, nil), health), health
}

func newDegraded(t *testing.T) *gin.Engine {
	t.Helper()
	c := classifier.New(nil, errors.New("failed to open model artifact: missing"), classifier.Config{}, nil)
	return newTestRouter(New(c, 1<<20, nil), NewHealthHandler(c))
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartBody builds a form with one part named field. An empty filename
// sends the part without a filename parameter, as browsers do for an empty
// file input.
func multipartBody(t *testing.T, field, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, w.WriteField(field, string(content)))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postPredict(router *gin.Engine, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestIndex(t *testing.T) {
	for name, router := range map[string]*gin.Engine{
		"loaded":   func() *gin.Engine { r, _ := newLoaded(t, inference.NewMock()); return r }(),
		"degraded": newDegraded(t),
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, StatusMessage, w.Body.String())
			assert.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestPredict_Success(t *testing.T) {
	mock := inference.NewMockWithScores([]float32{0.05, 0.1, 0.8, 0.05})
	router, _ := newLoaded(t, mock)

	body, contentType := multipartBody(t, ImageField, "fundus.png", testPNG(t))
	w := postPredict(router, body, contentType)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "glaucoma", resp["predicted_class"])
	assert.InDelta(t, 0.8, resp["confidence"], 1e-6)
	assert.Len(t, resp, 2)
	assert.Equal(t, 1, mock.Calls())
}

func TestPredict_FileSpilledToDisk(t *testing.T) {
	mock := inference.NewMock()
	router, _ := newLoaded(t, mock)
	// Forces the uploaded file part out of memory into a temp file.
	router.MaxMultipartMemory = 64

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("patient", "anon"))
	part, err := mw.CreateFormFile(ImageField, "fundus.png")
	require.NoError(t, err)
	_, err = part.Write(testPNG(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := postPredict(router, &buf, mw.FormDataContentType())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, mock.Calls())
}

func TestPredict_IsDeterministic(t *testing.T) {
	router, _ := newLoaded(t, inference.NewMock())
	data := testPNG(t)

	var bodies []string
	for i := 0; i < 3; i++ {
		body, contentType := multipartBody(t, ImageField, "fundus.png", data)
		w := postPredict(router, body, contentType)
		require.Equal(t, http.StatusOK, w.Code)
		bodies = append(bodies, w.Body.String())
	}

	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
}

func TestPredict_ClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    func(t *testing.T) (io.Reader, string)
		message string
	}{
		{
			name: "no image field",
			body: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, "file", "fundus.png", []byte("data"))
			},
			message: "No image file provided",
		},
		{
			name: "empty filename",
			body: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, ImageField, "", nil)
			},
			message: "No selected file",
		},
		{
			name: "not multipart",
			body: func(t *testing.T) (io.Reader, string) {
				return bytes.NewReader([]byte(`{"image":"x"}`)), "application/json"
			},
			message: "No image file provided",
		},
		{
			name: "no body",
			body: func(t *testing.T) (io.Reader, string) {
				return http.NoBody, ""
			},
			message: "No image file provided",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := inference.NewMock()
			router, _ := newLoaded(t, mock)

			body, contentType := tt.body(t)
			w := postPredict(router, body, contentType)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, decodeError(t, w))
			assert.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, 0, mock.Calls())
		})
	}
}

func TestPredict_UploadTooLarge(t *testing.T) {
	c := classifier.New(inference.NewMock(), nil, classifier.Config{}, nil)
	router := newTestRouter(New(c, 512, nil), NewHealthHandler(c))

	body, contentType := multipartBody(t, ImageField, "big.png", bytes.Repeat([]byte{0x89}, 4096))
	w := postPredict(router, body, contentType)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w), "exceeds")
}

func TestPredict_NonImageBytes(t *testing.T) {
	mock := inference.NewMock()
	router, _ := newLoaded(t, mock)

	body, contentType := multipartBody(t, ImageField, "notes.txt", []byte("these are not pixels"))
	w := postPredict(router, body, contentType)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeError(t, w), "image: unknown format")
	assert.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 0, mock.Calls())
}

func TestPredict_InferenceError(t *testing.T) {
	mock := inference.NewMock()
	mock.SetError("inference failed: session crashed")
	router, _ := newLoaded(t, mock)

	body, contentType := multipartBody(t, ImageField, "fundus.png", testPNG(t))
	w := postPredict(router, body, contentType)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "inference failed: session crashed", decodeError(t, w))
}

func TestPredict_ModelNotLoaded(t *testing.T) {
	router := newDegraded(t)

	for _, content := range [][]byte{testPNG(t), []byte("junk")} {
		body, contentType := multipartBody(t, ImageField, "fundus.png", content)
		w := postPredict(router, body, contentType)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "model not loaded", decodeError(t, w))
	}
}

func TestPreflight(t *testing.T) {
	mock := inference.NewMock()
	router, _ := newLoaded(t, mock)

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, testOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, 0, mock.Calls())
}

func TestPreflight_Degraded(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	w := httptest.NewRecorder()
	newDegraded(t).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	get := func(router *gin.Engine, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("loaded model is ready", func(t *testing.T) {
		router, _ := newLoaded(t, inference.NewMock())

		assert.Equal(t, http.StatusOK, get(router, "/healthz").Code)
		w := get(router, "/readyz")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
	})

	t.Run("degraded model is alive but not ready", func(t *testing.T) {
		router := newDegraded(t)

		assert.Equal(t, http.StatusOK, get(router, "/healthz").Code)
		w := get(router, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "failed to open model artifact")
	})

	t.Run("shutting down fails both probes", func(t *testing.T) {
		router, health := newLoaded(t, inference.NewMock())
		health.SetServing(false)

		assert.Equal(t, http.StatusServiceUnavailable, get(router, "/healthz").Code)
		assert.Equal(t, http.StatusServiceUnavailable, get(router, "/readyz").Code)
	})
}
