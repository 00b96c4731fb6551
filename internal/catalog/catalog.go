// Package catalog describes the health metrics the app tracks: their
// categories, units, colours, reference ranges, goals and advice.
package catalog

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/healthtrack/healthtrack/internal/models"
)

//go:embed default.yaml
var defaultCatalog []byte

// borderlineMargin is how far outside the reference range a value may fall,
// as a share of the range span, before it counts as high.
const borderlineMargin = 0.1

type Category struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type Metric struct {
	ID              string                 `yaml:"id" json:"id"`
	Name            string                 `yaml:"name" json:"name"`
	Category        string                 `yaml:"category" json:"category"`
	Unit            string                 `yaml:"unit" json:"unit"`
	Color           string                 `yaml:"color" json:"color"`
	Reference       *models.ReferenceRange `yaml:"reference" json:"reference,omitempty"`
	Goal            string                 `yaml:"goal" json:"goal,omitempty"`
	Recommendations []string               `yaml:"recommendations" json:"recommendations,omitempty"`
}

type Catalog struct {
	Categories []Category `yaml:"categories"`
	Metrics    []Metric   `yaml:"metrics"`

	byID map[string]*Metric
}

// Load reads the catalog at path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	categories := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		categories[cat.ID] = true
	}

	c.byID = make(map[string]*Metric, len(c.Metrics))
	for i := range c.Metrics {
		m := &c.Metrics[i]
		if m.ID == "" {
			return nil, fmt.Errorf("metric %d has no id", i)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate metric %q", m.ID)
		}
		if !categories[m.Category] {
			return nil, fmt.Errorf("metric %q has unknown category %q", m.ID, m.Category)
		}
		if m.Reference.HasMin() && m.Reference.HasMax() && *m.Reference.Min > *m.Reference.Max {
			return nil, fmt.Errorf("metric %q has min above max", m.ID)
		}
		c.byID[m.ID] = m
	}

	return &c, nil
}

func (c *Catalog) Metric(id string) (*Metric, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Grouped returns the metrics of each category in catalog order.
func (c *Catalog) Grouped() map[string][]Metric {
	out := make(map[string][]Metric, len(c.Categories))
	for _, m := range c.Metrics {
		out[m.Category] = append(out[m.Category], m)
	}
	return out
}

// Classify grades a value against a reference range. Inside the range is
// normal; within borderlineMargin of the span outside it is borderline;
// anything further is high. Without a range every value is normal.
func Classify(value float64, rr *models.ReferenceRange) models.Status {
	if !rr.HasMin() && !rr.HasMax() {
		return models.StatusNormal
	}

	var span float64
	switch {
	case rr.HasMin() && rr.HasMax():
		span = *rr.Max - *rr.Min
	case rr.HasMax():
		span = math.Abs(*rr.Max)
	default:
		span = math.Abs(*rr.Min)
	}
	margin := span * borderlineMargin

	var distance float64
	if rr.HasMin() && value < *rr.Min {
		distance = *rr.Min - value
	}
	if rr.HasMax() && value > *rr.Max {
		distance = value - *rr.Max
	}

	switch {
	case distance == 0:
		return models.StatusNormal
	case distance <= margin:
		return models.StatusBorderline
	default:
		return models.StatusHigh
	}
}
