package chart

import (
	"regexp"
	"strings"

	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/healthtrack/healthtrack/internal/models"
)

// DefaultColor is used when the requested colour token is not a hex colour.
const DefaultColor = "#3B82F6"

var (
	amber      = drawing.ColorFromHex("F59E0B")
	red        = drawing.ColorFromHex("EF4444")
	guideColor = drawing.ColorFromHex("9CA3AF")

	hexColor = regexp.MustCompile(`^[0-9a-fA-F]{6}$|^[0-9a-fA-F]{3}$`)
)

func resolveColor(token string) drawing.Color {
	hex := strings.TrimPrefix(strings.TrimSpace(token), "#")
	if !hexColor.MatchString(hex) {
		hex = strings.TrimPrefix(DefaultColor, "#")
	}
	return drawing.ColorFromHex(hex)
}

func statusColor(s models.Status, base drawing.Color) drawing.Color {
	switch s {
	case models.StatusBorderline:
		return amber
	case models.StatusHigh:
		return red
	default:
		return base
	}
}
