package models

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusNormal     Status = "normal"
	StatusBorderline Status = "borderline"
	StatusHigh       Status = "high"
)

type Source string

const (
	SourceReport Source = "report"
	SourceManual Source = "manual"
)

// DateLayout is the calendar date format measurements carry.
const DateLayout = "2006-01-02"

type Measurement struct {
	ID      string      `json:"id" dynamodbav:"id"`
	Metric  string      `json:"metric" dynamodbav:"metric"`
	Date    string      `json:"date" dynamodbav:"date"`
	Time    string      `json:"time" dynamodbav:"time"`
	Value   MetricValue `json:"value" dynamodbav:"value"`
	Status  Status      `json:"status" dynamodbav:"status"`
	Source  Source      `json:"source" dynamodbav:"source"`
	Context string      `json:"context,omitempty" dynamodbav:"context,omitempty"`
	Notes   string      `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
}

// Day parses Date; the zero time is returned for malformed dates.
func (m Measurement) Day() time.Time {
	d, err := time.Parse(DateLayout, m.Date)
	if err != nil {
		return time.Time{}
	}
	return d
}

func (m Measurement) Validate() error {
	if m.Metric == "" {
		return fmt.Errorf("metric is required")
	}
	if _, err := time.Parse(DateLayout, m.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	switch m.Source {
	case SourceReport, SourceManual:
	default:
		return fmt.Errorf("source must be report or manual")
	}
	return nil
}

// ReferenceRange is the normal band for a metric. Either bound may be absent.
type ReferenceRange struct {
	Min *float64 `json:"min" yaml:"min"`
	Max *float64 `json:"max" yaml:"max"`
}

func NewReferenceRange(min, max float64) *ReferenceRange {
	return &ReferenceRange{Min: &min, Max: &max}
}

func (r *ReferenceRange) HasMin() bool { return r != nil && r.Min != nil }
func (r *ReferenceRange) HasMax() bool { return r != nil && r.Max != nil }

type Timeframe string

const (
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeWeek, TimeframeMonth, TimeframeYear:
		return Timeframe(s), nil
	case "":
		return TimeframeMonth, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Since returns the first calendar day inside the timeframe ending at now.
func (t Timeframe) Since(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch t {
	case TimeframeWeek:
		return day.AddDate(0, 0, -6)
	case TimeframeYear:
		return day.AddDate(-1, 0, 1)
	default:
		return day.AddDate(0, 0, -29)
	}
}

func (t Timeframe) Caption() string {
	switch t {
	case TimeframeWeek:
		return "Last 7 days"
	case TimeframeYear:
		return "Last 12 months"
	default:
		return "Last 30 days"
	}
}
