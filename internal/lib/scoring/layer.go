package scoring

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ParseScores reads a CSV of region scores. keyColumn and scoreColumn are
// matched case-insensitively against the header. Rows with an empty key or a
// non-numeric score are ignored; later rows win on duplicate keys.
func ParseScores(r io.Reader, source, keyColumn, scoreColumn string) (map[string]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &MalformedLayerError{Source: source, Reason: "score table is empty"}
	}
	if err != nil {
		return nil, &MalformedLayerError{Source: source, Reason: fmt.Sprintf("unreadable header: %v", err)}
	}

	keyIdx, scoreIdx := -1, -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if keyIdx < 0 && strings.EqualFold(name, keyColumn) {
			keyIdx = i
		}
		if scoreIdx < 0 && strings.EqualFold(name, scoreColumn) {
			scoreIdx = i
		}
	}
	if keyIdx < 0 || scoreIdx < 0 {
		return nil, &MalformedLayerError{
			Source: source,
			Reason: fmt.Sprintf("header needs columns %q and %q", keyColumn, scoreColumn),
		}
	}

	scores := make(map[string]float64)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, &MalformedLayerError{Source: source, Reason: err.Error()}
		}
		if keyIdx >= len(record) || scoreIdx >= len(record) {
			continue
		}

		key := strings.TrimSpace(record[keyIdx])
		score, err := strconv.ParseFloat(strings.TrimSpace(record[scoreIdx]), 64)
		if key == "" || err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		scores[key] = clamp(score)
	}
	return scores, nil
}

// MergeLayer joins polygon features to scores by the feature property
// keyProperty. Features with no score, and scores with no feature, are left
// out. MultiPolygon features contribute one ScoredPolygon per part.
func MergeLayer(fc *geojson.FeatureCollection, scores map[string]float64, keyProperty string) []ScoredPolygon {
	if fc == nil {
		return nil
	}

	var polygons []ScoredPolygon
	for _, feature := range fc.Features {
		if feature == nil {
			continue
		}
		key, ok := propertyKey(feature.Properties, keyProperty)
		if !ok {
			continue
		}
		score, ok := scores[key]
		if !ok {
			continue
		}

		switch g := feature.Geometry.(type) {
		case orb.Polygon:
			polygons = append(polygons, ScoredPolygon{RegionID: key, Polygon: g, Score: score})
		case orb.MultiPolygon:
			for _, part := range g {
				polygons = append(polygons, ScoredPolygon{RegionID: key, Polygon: part, Score: score})
			}
		}
	}
	return polygons
}

// LoadLayer parses a GeoJSON feature collection and a score CSV and joins them
func LoadLayer(features []byte, scoreTable io.Reader, source, keyProperty, keyColumn, scoreColumn string) ([]ScoredPolygon, error) {
	fc, err := geojson.UnmarshalFeatureCollection(features)
	if err != nil {
		return nil, &MalformedLayerError{Source: source, Reason: fmt.Sprintf("invalid GeoJSON: %v", err)}
	}
	scores, err := ParseScores(scoreTable, source, keyColumn, scoreColumn)
	if err != nil {
		return nil, err
	}
	return MergeLayer(fc, scores, keyProperty), nil
}

func propertyKey(props geojson.Properties, name string) (string, bool) {
	v, ok := props[name]
	if !ok || v == nil {
		return "", false
	}
	switch key := v.(type) {
	case string:
		key = strings.TrimSpace(key)
		return key, key != ""
	case float64:
		return strconv.FormatFloat(key, 'f', -1, 64), true
	case int:
		return strconv.Itoa(key), true
	case bool:
		return "", false
	default:
		return fmt.Sprint(key), true
	}
}
