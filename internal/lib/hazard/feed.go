package hazard

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// Required feed columns, matched case-insensitively against the header row
const (
	ColumnLatitude   = "latitude"
	ColumnLongitude  = "longitude"
	ColumnConfidence = "confidence"
	ColumnAcqDate    = "acq_date"
	ColumnAcqTime    = "acq_time"
)

// FeedResult holds the parsed points of one feed download
type FeedResult struct {
	Points []Point
	// Skipped counts data rows dropped for bad coordinates or confidence
	Skipped int
}

// ParseFeed reads a FIRMS-style CSV feed. Columns are located by header name;
// a feed without latitude, longitude or confidence columns is a
// MalformedFeedError. Individual bad rows are skipped and counted.
func ParseFeed(r io.Reader, source string) (FeedResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return FeedResult{}, &MalformedFeedError{Source: source, Reason: "feed is empty"}
	}
	if err != nil {
		return FeedResult{}, &MalformedFeedError{Source: source, Reason: fmt.Sprintf("unreadable header: %v", err)}
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}

	var missing []string
	for _, required := range []string{ColumnLatitude, ColumnLongitude, ColumnConfidence} {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return FeedResult{}, &MalformedFeedError{
			Source: source,
			Reason: "missing columns: " + strings.Join(missing, ", "),
		}
	}

	var result FeedResult
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Skipped++
				continue
			}
			return FeedResult{}, &MalformedFeedError{Source: source, Reason: err.Error()}
		}

		point, ok := parseRow(record, columns, source)
		if !ok {
			result.Skipped++
			continue
		}
		result.Points = append(result.Points, point)
	}

	return result, nil
}

func parseRow(record []string, columns map[string]int, source string) (Point, bool) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	lat, err := strconv.ParseFloat(field(ColumnLatitude), 64)
	if err != nil {
		return Point{}, false
	}
	lng, err := strconv.ParseFloat(field(ColumnLongitude), 64)
	if err != nil {
		return Point{}, false
	}
	location, err := geo.NewPoint(lat, lng)
	if err != nil {
		return Point{}, false
	}

	confidence, err := ParseConfidence(field(ColumnConfidence))
	if err != nil {
		return Point{}, false
	}

	return Point{
		Location:   location,
		Confidence: confidence,
		AcquiredAt: parseAcquisition(field(ColumnAcqDate), field(ColumnAcqTime)),
		Source:     source,
	}, true
}

// parseAcquisition combines acq_date (YYYY-MM-DD) and acq_time (HHMM, UTC,
// leading zeros sometimes dropped). Unparseable values yield the zero time.
func parseAcquisition(date, hhmm string) time.Time {
	if date == "" {
		return time.Time{}
	}
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}
	}
	if hhmm == "" {
		return day
	}

	n, err := strconv.Atoi(hhmm)
	if err != nil || n < 0 || n/100 > 23 || n%100 > 59 {
		return day
	}
	return day.Add(time.Duration(n/100)*time.Hour + time.Duration(n%100)*time.Minute)
}
