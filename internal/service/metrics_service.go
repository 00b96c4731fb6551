package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/catalog"
	"github.com/healthtrack/healthtrack/internal/chart"
	"github.com/healthtrack/healthtrack/internal/config"
	"github.com/healthtrack/healthtrack/internal/models"
)

var (
	ErrUnknownMetric      = errors.New("unknown metric")
	ErrInvalidMeasurement = errors.New("invalid measurement")
)

// MeasurementStore persists measurements per user.
type MeasurementStore interface {
	Put(ctx context.Context, userID string, m models.Measurement) error
	ListByMetric(ctx context.Context, userID, metric, since string, limit int) ([]models.Measurement, error)
	Delete(ctx context.Context, userID string, m models.Measurement) error
}

type MetricsService struct {
	catalog *catalog.Catalog
	store   MeasurementStore
	cfg     *config.MetricsConfig
	logger  *logrus.Logger
	now     func() time.Time
}

func NewMetricsService(cat *catalog.Catalog, store MeasurementStore, cfg *config.MetricsConfig, logger *logrus.Logger) *MetricsService {
	return &MetricsService{
		catalog: cat,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

type CategoryView struct {
	catalog.Category
	Metrics []catalog.Metric `json:"metrics"`
}

func (s *MetricsService) Categories() []CategoryView {
	grouped := s.catalog.Grouped()
	out := make([]CategoryView, 0, len(s.catalog.Categories))
	for _, c := range s.catalog.Categories {
		out = append(out, CategoryView{Category: c, Metrics: grouped[c.ID]})
	}
	return out
}

func (s *MetricsService) metric(id string) (*catalog.Metric, error) {
	m, ok := s.catalog.Metric(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, id)
	}
	return m, nil
}

// History returns the user's measurements of a metric inside the
// timeframe, newest first.
func (s *MetricsService) History(ctx context.Context, userID, metricID string, tf models.Timeframe) ([]models.Measurement, error) {
	if _, err := s.metric(metricID); err != nil {
		return nil, err
	}

	since := tf.Since(s.now()).Format(models.DateLayout)
	items, err := s.store.ListByMetric(ctx, userID, metricID, since, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return items, nil
}

type RecordInput struct {
	Value   *models.MetricValue `json:"value"`
	Date    string              `json:"date,omitempty"`
	Time    string              `json:"time,omitempty"`
	Source  models.Source       `json:"source,omitempty"`
	Status  models.Status       `json:"status,omitempty"`
	Context string              `json:"context,omitempty"`
	Notes   string              `json:"notes,omitempty"`
}

// Record stores a new measurement. The value is required. Missing date and
// time default to now, a missing source to manual, and a missing status is
// derived from the metric's reference range.
func (s *MetricsService) Record(ctx context.Context, userID, metricID string, in RecordInput) (models.Measurement, error) {
	metric, err := s.metric(metricID)
	if err != nil {
		return models.Measurement{}, err
	}
	if in.Value == nil {
		return models.Measurement{}, fmt.Errorf("%w: value is required", ErrInvalidMeasurement)
	}

	now := s.now()
	m := models.Measurement{
		ID:      uuid.New().String(),
		Metric:  metricID,
		Date:    in.Date,
		Time:    in.Time,
		Value:   *in.Value,
		Status:  in.Status,
		Source:  in.Source,
		Context: in.Context,
		Notes:   in.Notes,
	}
	if m.Date == "" {
		m.Date = now.Format(models.DateLayout)
	}
	if m.Time == "" {
		m.Time = now.Format("15:04")
	}
	if m.Source == "" {
		m.Source = models.SourceManual
	}
	switch m.Status {
	case "":
		m.Status = catalog.Classify(m.Value.Primary(), metric.Reference)
	case models.StatusNormal, models.StatusBorderline, models.StatusHigh:
	default:
		return models.Measurement{}, fmt.Errorf("%w: unknown status %q", ErrInvalidMeasurement, m.Status)
	}

	if err := m.Validate(); err != nil {
		return models.Measurement{}, fmt.Errorf("%w: %v", ErrInvalidMeasurement, err)
	}
	if m.Date > now.Format(models.DateLayout) {
		return models.Measurement{}, fmt.Errorf("%w: date is in the future", ErrInvalidMeasurement)
	}

	if err := s.store.Put(ctx, userID, m); err != nil {
		return models.Measurement{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"user":   userID,
		"metric": metricID,
		"status": m.Status,
		"source": m.Source,
	}).Info("Measurement recorded")
	return m, nil
}

// Delete removes one measurement. The key needs the date and time the
// measurement was recorded under.
func (s *MetricsService) Delete(ctx context.Context, userID, metricID, id, date, clock string) error {
	if _, err := s.metric(metricID); err != nil {
		return err
	}
	m := models.Measurement{ID: id, Metric: metricID, Date: date, Time: clock}
	if id == "" || m.Day().IsZero() || clock == "" {
		return fmt.Errorf("%w: id, date and time are required", ErrInvalidMeasurement)
	}

	if err := s.store.Delete(ctx, userID, m); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"user":   userID,
		"metric": metricID,
		"id":     id,
	}).Info("Measurement deleted")
	return nil
}

// Trend builds the chart for a metric over a timeframe. Width or height of
// zero fall back to the configured canvas size.
func (s *MetricsService) Trend(ctx context.Context, userID, metricID string, tf models.Timeframe, width, height float64) (chart.Chart, error) {
	metric, err := s.metric(metricID)
	if err != nil {
		return chart.Chart{}, err
	}

	items, err := s.History(ctx, userID, metricID, tf)
	if err != nil {
		return chart.Chart{}, err
	}

	if width <= 0 {
		width = s.cfg.ChartWidth
	}
	if height <= 0 {
		height = s.cfg.ChartHeight
	}

	return chart.Build(chart.Input{
		Series:    items,
		Range:     metric.Reference,
		Color:     metric.Color,
		Width:     width,
		Height:    height,
		Timeframe: tf,
	}), nil
}

type Insights struct {
	Metric          catalog.Metric      `json:"metric"`
	Latest          *models.Measurement `json:"latest,omitempty"`
	Count           int                 `json:"count"`
	Average         float64             `json:"average"`
	Direction       string              `json:"direction"`
	Goal            string              `json:"goal,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
}

// Insights summarises the last month of a metric: latest reading, average,
// direction of change, goal and recommendations.
func (s *MetricsService) Insights(ctx context.Context, userID, metricID string) (*Insights, error) {
	metric, err := s.metric(metricID)
	if err != nil {
		return nil, err
	}

	items, err := s.History(ctx, userID, metricID, models.TimeframeMonth)
	if err != nil {
		return nil, err
	}

	out := &Insights{
		Metric:          *metric,
		Count:           len(items),
		Direction:       "stable",
		Goal:            metric.Goal,
		Recommendations: metric.Recommendations,
	}
	if len(items) == 0 {
		return out, nil
	}

	latest := items[0]
	out.Latest = &latest

	var sum float64
	for _, m := range items {
		sum += m.Value.Primary()
	}
	out.Average = math.Round(sum/float64(len(items))*10) / 10
	out.Direction = direction(items[len(items)-1].Value.Primary(), latest.Value.Primary())

	return out, nil
}

// direction compares the oldest and newest values; changes under 2% are
// reported as stable.
func direction(oldest, newest float64) string {
	diff := newest - oldest
	base := math.Max(math.Abs(oldest), 1)
	switch {
	case diff/base > 0.02:
		return "up"
	case diff/base < -0.02:
		return "down"
	default:
		return "stable"
	}
}
