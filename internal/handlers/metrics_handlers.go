package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/middleware"
	"github.com/healthtrack/healthtrack/internal/models"
	"github.com/healthtrack/healthtrack/internal/repository"
	"github.com/healthtrack/healthtrack/internal/service"
)

// maxBodyBytes caps measurement request bodies.
const maxBodyBytes = 64 << 10

type MetricsHandlers struct {
	metrics *service.MetricsService
	logger  *logrus.Logger
}

func NewMetricsHandlers(metrics *service.MetricsService, logger *logrus.Logger) *MetricsHandlers {
	return &MetricsHandlers{
		metrics: metrics,
		logger:  logger,
	}
}

type CategoriesResponse struct {
	Categories []service.CategoryView `json:"categories"`
}

type HistoryResponse struct {
	Metric       string               `json:"metric"`
	Timeframe    models.Timeframe     `json:"timeframe"`
	Caption      string               `json:"caption"`
	Measurements []models.Measurement `json:"measurements"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *MetricsHandlers) ListMetrics(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, CategoriesResponse{Categories: h.metrics.Categories()})
}

func (h *MetricsHandlers) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	metricID := mux.Vars(r)["metric"]

	tf, err := models.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_TIMEFRAME", err.Error())
		return
	}

	items, err := h.metrics.History(r.Context(), userID, metricID, tf)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []models.Measurement{}
	}

	h.respondWithJSON(w, http.StatusOK, HistoryResponse{
		Metric:       metricID,
		Timeframe:    tf,
		Caption:      tf.Caption(),
		Measurements: items,
	})
}

func (h *MetricsHandlers) RecordMeasurement(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req service.RecordInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WithError(err).Debug("Failed to decode measurement")
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	m, err := h.metrics.Record(r.Context(), userID, mux.Vars(r)["metric"], req)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, m)
}

func (h *MetricsHandlers) DeleteMeasurement(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	q := r.URL.Query()

	if err := h.metrics.Delete(r.Context(), userID, vars["metric"], vars["id"], q.Get("date"), q.Get("time")); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MetricsHandlers) Chart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	tf, err := models.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_TIMEFRAME", err.Error())
		return
	}

	width, err := parseDimension(q.Get("width"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_SIZE", "width must be a positive number")
		return
	}
	height, err := parseDimension(q.Get("height"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_SIZE", "height must be a positive number")
		return
	}

	c, err := h.metrics.Trend(r.Context(), userID, mux.Vars(r)["metric"], tf, width, height)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, c)
}

func (h *MetricsHandlers) Insights(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	insights, err := h.metrics.Insights(r.Context(), userID, mux.Vars(r)["metric"])
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, insights)
}

// parseDimension reads an optional positive size; "" means use the default.
func parseDimension(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, errors.New("invalid dimension")
	}
	return v, nil
}

func (h *MetricsHandlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return "", false
	}
	return userID, true
}

func (h *MetricsHandlers) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownMetric):
		h.respondWithError(w, http.StatusNotFound, "UNKNOWN_METRIC", "Unknown metric")
	case errors.Is(err, repository.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Measurement not found")
	case errors.Is(err, service.ErrInvalidMeasurement):
		h.respondWithError(w, http.StatusUnprocessableEntity, "INVALID_MEASUREMENT", err.Error())
	default:
		h.logger.WithError(err).WithField("request_id", middleware.RequestID(r.Context())).Error("Failed to serve metrics request")
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong")
	}
}

func (h *MetricsHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *MetricsHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
