package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/inference"
	"github.com/Brownie44l1/plate-ocr/internal/stats"
)

const maxUploadSize = 10 << 20

// Classifier is the part of *inference.Session the handlers use.
type Classifier interface {
	Classify(ctx context.Context, f frame.Frame) (inference.Result, error)
	Label(index int) string
	Latency() stats.Summary
}

// Info describes the loaded model for /health.
type Info struct {
	Model     string
	Runtime   string
	ArenaUsed int
	ArenaSize int
}

type Handler struct {
	session Classifier
	info    Info
	logger  *zap.Logger
}

func NewHandler(session Classifier, info Info, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{session: session, info: info, logger: logger}
}

// PredictionResponse is the body of a successful /predict.
type PredictionResponse struct {
	Index int `json:"index"`
	Score int `json:"score"`
	// TimeMS is the invoke latency with two decimals.
	TimeMS json.Number `json:"time_ms"`
}

type ImagePredictionResponse struct {
	PredictionResponse
	Label string `json:"label"`
}

type HealthResponse struct {
	Status    string        `json:"status"`
	Model     string        `json:"model"`
	Runtime   string        `json:"runtime"`
	ArenaUsed int           `json:"arena_used"`
	ArenaSize int           `json:"arena_size"`
	Latency   stats.Summary `json:"latency"`
}

func newPrediction(res inference.Result) PredictionResponse {
	return PredictionResponse{
		Index:  res.Index,
		Score:  int(res.Quantized),
		TimeMS: json.Number(fmt.Sprintf("%.2f", float64(res.Latency.Microseconds())/1000)),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:    "healthy",
		Model:     h.info.Model,
		Runtime:   h.info.Runtime,
		ArenaUsed: h.info.ArenaUsed,
		ArenaSize: h.info.ArenaSize,
		Latency:   h.session.Latency(),
	})
}

// Predict classifies a raw 4096-byte frame. Every failure, including a body of
// the wrong length, is answered with 500.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, frame.Size+1))
	if err != nil || len(body) == 0 {
		h.logger.Warn("failed to read request body", zap.Int("bytes", len(body)), zap.Error(err))
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}
	if len(body) != frame.Size {
		h.logger.Warn("unexpected frame size", zap.Int("bytes", len(body)), zap.Int("want", frame.Size))
		http.Error(w, fmt.Sprintf("Expected %d bytes", frame.Size), http.StatusInternalServerError)
		return
	}

	f, err := frame.New(body)
	if err != nil {
		http.Error(w, "Invalid frame", http.StatusInternalServerError)
		return
	}
	res, ok := h.classify(w, r, f)
	if !ok {
		return
	}
	writeJSON(w, newPrediction(res))
}

// PredictFromImage letterboxes an uploaded glyph image into a frame first.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return
	}
	h.logger.Debug("received image",
		zap.String("file", header.Filename),
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
	)

	f, err := frame.FromImage(img, frame.DefaultFitOptions)
	if err != nil {
		http.Error(w, "Failed to preprocess image", http.StatusBadRequest)
		return
	}
	res, ok := h.classify(w, r, f)
	if !ok {
		return
	}
	writeJSON(w, ImagePredictionResponse{
		PredictionResponse: newPrediction(res),
		Label:              h.session.Label(res.Index),
	})
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request, f frame.Frame) (inference.Result, bool) {
	w.Header().Set("X-Request-ID", f.ID)
	res, err := h.session.Classify(r.Context(), f)
	if err != nil {
		h.logger.Error("prediction failed", zap.String("frame_id", f.ID), zap.Error(err))
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return inference.Result{}, false
	}
	h.logger.Info("prediction",
		zap.String("frame_id", f.ID),
		zap.Int("index", res.Index),
		zap.Int8("score_q", res.Quantized),
		zap.Duration("latency", res.Latency),
	)
	return res, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func EnableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Routes mounts the endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", EnableCORS(h.Health))
	mux.HandleFunc("/predict", EnableCORS(h.Predict))
	mux.HandleFunc("/predict/image", EnableCORS(h.PredictFromImage))
	return mux
}
