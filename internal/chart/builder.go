// Package chart turns a measurement series into the primitives of a trend
// line chart: the line path, the reference band and guide lines, point
// markers and axis labels. It does no drawing and no I/O.
package chart

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/healthtrack/healthtrack/internal/models"
)

const (
	// Padding is the inset of the plot area inside the canvas, in pixels.
	Padding = 30.0

	markerRadius  = 4.0
	ringExtra     = 4.0
	maxLabeled    = 10
	spanPadding   = 0.1
	bandAlpha     = 38
	minimumPoints = 2
)

const (
	placeholderMessage = "Not enough data to display chart"
	smallCanvasMessage = "Chart area is too small"
)

type Input struct {
	Series    []models.Measurement
	Range     *models.ReferenceRange
	Color     string
	Width     float64
	Height    float64
	Timeframe models.Timeframe
}

type Chart struct {
	Placeholder bool        `json:"placeholder"`
	Message     string      `json:"message,omitempty"`
	Caption     string      `json:"caption"`
	Width       float64     `json:"width"`
	Height      float64     `json:"height"`
	Path        string      `json:"path,omitempty"`
	LineColor   string      `json:"lineColor,omitempty"`
	Band        *Band       `json:"band,omitempty"`
	Guides      []GuideLine `json:"guides,omitempty"`
	Points      []Marker    `json:"points,omitempty"`
	XLabels     []AxisLabel `json:"xLabels,omitempty"`
	YLabels     []AxisLabel `json:"yLabels,omitempty"`
	MinValue    float64     `json:"minValue"`
	MaxValue    float64     `json:"maxValue"`
}

// Band is the shaded rectangle between the reference bounds.
type Band struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Fill   string  `json:"fill"`
}

type GuideLine struct {
	Label  string  `json:"label"`
	Value  float64 `json:"value"`
	X1     float64 `json:"x1"`
	X2     float64 `json:"x2"`
	Y      float64 `json:"y"`
	Dashed bool    `json:"dashed"`
	Color  string  `json:"color"`
}

type Marker struct {
	Index      int           `json:"index"`
	X          float64       `json:"x"`
	Y          float64       `json:"y"`
	Radius     float64       `json:"radius"`
	Fill       string        `json:"fill"`
	Status     models.Status `json:"status"`
	Emphasized bool          `json:"emphasized"`
	Ring       *Ring         `json:"ring,omitempty"`
	Date       string        `json:"date"`
	Value      string        `json:"value"`
}

// Ring marks a point that came from an uploaded report.
type Ring struct {
	Radius float64 `json:"radius"`
	Stroke string  `json:"stroke"`
	Dashed bool    `json:"dashed"`
}

type AxisLabel struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

// point is a measurement with its position in the series attached, so the
// marker list and the labelled subsample share one index.
type point struct {
	index int
	m     models.Measurement
	value float64
	x, y  float64
}

// Build maps the input to chart primitives. Fewer than two measurements
// yield a placeholder chart; a canvas without room for the plot area
// yields an empty chart with smallCanvasMessage. Points are spaced evenly
// in series order whatever their dates are; callers sort the series if they
// need time order.
func Build(in Input) Chart {
	out := Chart{
		Caption: in.Timeframe.Caption(),
		Width:   in.Width,
		Height:  in.Height,
	}

	if len(in.Series) < minimumPoints {
		out.Placeholder = true
		out.Message = placeholderMessage
		return out
	}
	if in.Width <= 2*Padding || in.Height <= 2*Padding {
		out.Message = smallCanvasMessage
		return out
	}

	base := resolveColor(in.Color)
	points := make([]point, len(in.Series))
	for i, m := range in.Series {
		points[i] = point{index: i, m: m, value: m.Value.Primary()}
	}

	lo, hi := valueBounds(points, in.Range)
	out.MinValue, out.MaxValue = lo, hi

	plotW := in.Width - 2*Padding
	plotH := in.Height - 2*Padding
	step := plotW / float64(len(points)-1)
	yOf := func(v float64) float64 {
		return in.Height - Padding - (v-lo)/(hi-lo)*plotH
	}

	var path strings.Builder
	for i := range points {
		points[i].x = Padding + float64(i)*step
		points[i].y = yOf(points[i].value)
		if i == 0 {
			fmt.Fprintf(&path, "M %s %s", coord(points[i].x), coord(points[i].y))
		} else {
			fmt.Fprintf(&path, " L %s %s", coord(points[i].x), coord(points[i].y))
		}
	}
	out.Path = path.String()
	out.LineColor = base.String()

	if in.Range.HasMin() && in.Range.HasMax() {
		top := yOf(math.Max(*in.Range.Min, *in.Range.Max))
		bottom := yOf(math.Min(*in.Range.Min, *in.Range.Max))
		out.Band = &Band{
			X:      Padding,
			Y:      top,
			Width:  plotW,
			Height: bottom - top,
			Fill:   base.WithAlpha(bandAlpha).String(),
		}
	}
	if in.Range.HasMin() {
		out.Guides = append(out.Guides, guide("Min", *in.Range.Min, yOf(*in.Range.Min), in.Width))
	}
	if in.Range.HasMax() {
		out.Guides = append(out.Guides, guide("Max", *in.Range.Max, yOf(*in.Range.Max), in.Width))
	}

	labeled := subsample(points)
	emphasized := make(map[int]bool, len(labeled))
	for _, p := range labeled {
		emphasized[p.index] = true
	}

	out.Points = make([]Marker, 0, len(points))
	for _, p := range points {
		fill := statusColor(p.m.Status, base).String()
		mk := Marker{
			Index:      p.index,
			X:          round2(p.x),
			Y:          round2(p.y),
			Radius:     markerRadius,
			Fill:       fill,
			Status:     p.m.Status,
			Emphasized: emphasized[p.index],
			Date:       p.m.Date,
			Value:      p.m.Value.String(),
		}
		if p.m.Source == models.SourceReport {
			mk.Ring = &Ring{Radius: markerRadius + ringExtra, Stroke: fill, Dashed: true}
		}
		out.Points = append(out.Points, mk)
	}

	for k, p := range labeled {
		if k%2 != 0 {
			continue
		}
		out.XLabels = append(out.XLabels, AxisLabel{
			X:    round2(p.x),
			Y:    in.Height - Padding/3,
			Text: monthDay(p.m.Date),
		})
	}

	out.YLabels = []AxisLabel{
		{X: Padding / 3, Y: Padding, Text: oneDecimal(hi)},
		{X: Padding / 3, Y: in.Height - Padding, Text: oneDecimal(lo)},
	}

	return out
}

// valueBounds returns the padded value range of the axis. Reference bounds
// only ever widen the data range.
func valueBounds(points []point, rr *models.ReferenceRange) (float64, float64) {
	lo, hi := points[0].value, points[0].value
	for _, p := range points[1:] {
		lo = math.Min(lo, p.value)
		hi = math.Max(hi, p.value)
	}
	if rr.HasMin() {
		lo = math.Min(lo, *rr.Min)
	}
	if rr.HasMax() {
		hi = math.Max(hi, *rr.Max)
	}

	if hi == lo {
		delta := math.Abs(lo) * spanPadding
		if delta == 0 {
			delta = 1
		}
		nonNegative := lo >= 0
		lo, hi = lo-delta, hi+delta
		if nonNegative && lo < 0 {
			lo = 0
		}
		return lo, hi
	}

	pad := (hi - lo) * spanPadding
	return lo - pad, hi + pad
}

// subsample keeps at most about maxLabeled points by taking every
// ceil(n/maxLabeled)th one. The most recent measurement is always kept.
func subsample(points []point) []point {
	stride := (len(points) + maxLabeled - 1) / maxLabeled
	if stride < 1 {
		stride = 1
	}

	latest := latestIndex(points)
	out := make([]point, 0, maxLabeled+1)
	for i, p := range points {
		if i%stride == 0 || i == latest {
			out = append(out, p)
		}
	}
	return out
}

// latestIndex finds the point with the greatest date. Ties and unparseable
// dates resolve to the earliest position, which is the most recent entry in
// a newest-first series.
func latestIndex(points []point) int {
	best := 0
	bestDay := points[0].m.Day()
	for i, p := range points[1:] {
		if d := p.m.Day(); d.After(bestDay) {
			best, bestDay = i+1, d
		}
	}
	return best
}

func guide(label string, value, y, width float64) GuideLine {
	return GuideLine{
		Label:  label,
		Value:  value,
		X1:     Padding,
		X2:     width - Padding,
		Y:      round2(y),
		Dashed: true,
		Color:  guideColor.String(),
	}
}

func monthDay(date string) string {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%d/%d", int(d.Month()), d.Day())
}

func oneDecimal(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', 1, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
