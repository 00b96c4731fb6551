package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type valueKind uint8

const (
	kindScalar valueKind = iota
	kindPair
)

// MetricValue is either a single number or a pair such as a
// systolic/diastolic blood pressure reading.
type MetricValue struct {
	kind   valueKind
	first  float64
	second float64
}

func Scalar(v float64) MetricValue {
	return MetricValue{kind: kindScalar, first: v}
}

func Pair(a, b float64) MetricValue {
	return MetricValue{kind: kindPair, first: a, second: b}
}

// ParseMetricValue accepts "98.6" or "120/80".
func ParseMetricValue(raw string) (MetricValue, error) {
	raw = strings.TrimSpace(raw)
	if a, b, ok := strings.Cut(raw, "/"); ok {
		first, err := parseFinite(a)
		if err != nil {
			return MetricValue{}, fmt.Errorf("invalid value %q: %w", raw, err)
		}
		second, err := parseFinite(b)
		if err != nil {
			return MetricValue{}, fmt.Errorf("invalid value %q: %w", raw, err)
		}
		return Pair(first, second), nil
	}

	v, err := parseFinite(raw)
	if err != nil {
		return MetricValue{}, fmt.Errorf("invalid value %q: %w", raw, err)
	}
	return Scalar(v), nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}

func (v MetricValue) IsPair() bool {
	return v.kind == kindPair
}

// Primary is the comparable number: the scalar itself or the first
// component of a pair.
func (v MetricValue) Primary() float64 {
	return v.first
}

// Components returns both parts of a pair; ok is false for scalars.
func (v MetricValue) Components() (a, b float64, ok bool) {
	return v.first, v.second, v.kind == kindPair
}

func (v MetricValue) String() string {
	if v.kind == kindPair {
		return formatNumber(v.first) + "/" + formatNumber(v.second)
	}
	return formatNumber(v.first)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (v MetricValue) MarshalJSON() ([]byte, error) {
	if v.kind == kindPair {
		return json.Marshal(v.String())
	}
	return json.Marshal(v.first)
}

func (v *MetricValue) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*v = Scalar(num)
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("value must be a number or a string: %w", err)
	}

	parsed, err := ParseMetricValue(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v MetricValue) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberS{Value: v.String()}, nil
}

func (v *MetricValue) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch attr := av.(type) {
	case *types.AttributeValueMemberS:
		parsed, err := ParseMetricValue(attr.Value)
		if err != nil {
			return err
		}
		*v = parsed
	case *types.AttributeValueMemberN:
		parsed, err := ParseMetricValue(attr.Value)
		if err != nil {
			return err
		}
		*v = parsed
	default:
		return fmt.Errorf("unsupported attribute type %T for metric value", av)
	}
	return nil
}
