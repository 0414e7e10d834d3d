package geo

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-polyline"
)

// InvalidGeometryError reports route geometry that cannot be turned into a path.
type InvalidGeometryError struct {
	Reason string
	Err    error
}

func (e *InvalidGeometryError) Error() string {
	if e.Err != nil {
		return "invalid geometry: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid geometry: " + e.Reason
}

func (e *InvalidGeometryError) Unwrap() error {
	return e.Err
}

// DecodePath converts routing-engine geometry into an ordered, latitude-first path.
//
// Accepted forms:
//   - a JSON string holding an encoded polyline (precision 5, latitude-first)
//   - a GeoJSON LineString object ([lng, lat] or [lng, lat, elevation] positions)
//   - a JSON array of positions, or a flat [lng, lat, lng, lat, ...] array
//
// The returned path keeps the wire order and always has at least two points.
func DecodePath(raw json.RawMessage) ([]Point, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &InvalidGeometryError{Reason: "geometry is empty"}
	}

	var (
		path []Point
		err  error
	)
	switch raw[0] {
	case '"':
		path, err = decodeEncodedPolyline(raw)
	case '{':
		path, err = decodeLineString(raw)
	case '[':
		path, err = decodeCoordinateArray(raw)
	default:
		return nil, &InvalidGeometryError{Reason: "unrecognized geometry encoding"}
	}
	if err != nil {
		return nil, err
	}

	if len(path) < 2 {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("path has %d points, want at least 2", len(path))}
	}
	return path, nil
}

func decodeEncodedPolyline(raw json.RawMessage) ([]Point, error) {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, &InvalidGeometryError{Reason: "malformed polyline string", Err: err}
	}

	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, &InvalidGeometryError{Reason: "malformed encoded polyline", Err: err}
	}
	if len(rest) > 0 {
		return nil, &InvalidGeometryError{Reason: "trailing bytes after encoded polyline"}
	}

	path := make([]Point, len(coords))
	for i, c := range coords {
		path[i] = Point{Latitude: c[0], Longitude: c[1]}
		if !IsValid(path[i]) {
			return nil, &InvalidGeometryError{Reason: fmt.Sprintf("polyline point %d out of range", i)}
		}
	}
	return path, nil
}

func decodeLineString(raw json.RawMessage) ([]Point, error) {
	var geometry struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &geometry); err != nil {
		return nil, &InvalidGeometryError{Reason: "malformed geometry object", Err: err}
	}
	if geometry.Type != "LineString" {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("geometry type %q, want LineString", geometry.Type)}
	}
	return decodeCoordinateArray(bytes.TrimSpace(geometry.Coordinates))
}

func decodeCoordinateArray(raw json.RawMessage) ([]Point, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, &InvalidGeometryError{Reason: "coordinates are not an array", Err: err}
	}
	if len(elements) == 0 {
		return nil, nil
	}

	if first := bytes.TrimSpace(elements[0]); len(first) > 0 && first[0] == '[' {
		var positions [][]float64
		if err := json.Unmarshal(raw, &positions); err != nil {
			return nil, &InvalidGeometryError{Reason: "non-numeric coordinate", Err: err}
		}
		path := make([]Point, len(positions))
		for i, position := range positions {
			p, err := FromLngLat(position)
			if err != nil {
				return nil, err
			}
			path[i] = p
		}
		return path, nil
	}

	var flat []float64
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, &InvalidGeometryError{Reason: "non-numeric coordinate", Err: err}
	}
	if len(flat)%2 != 0 {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("flat coordinate array has odd length %d", len(flat))}
	}
	path := make([]Point, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		p, err := FromLngLat(flat[i : i+2])
		if err != nil {
			return nil, err
		}
		path = append(path, p)
	}
	return path, nil
}
