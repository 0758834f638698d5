// Package history stores small per-subject daily series (water intake,
// workout minutes) in a sorted set scored by day. Writes never rewrite
// earlier points; the read side merges duplicates.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/fitpulse/pulse/internal/metrics"
	"github.com/fitpulse/pulse/internal/models"
)

const (
	// DefaultRetention is how far back points are kept.
	DefaultRetention = 30 * 24 * time.Hour

	dayLayout = "2006-01-02"
)

// ErrInvalidPoint is returned by Record for a malformed day or value.
var ErrInvalidPoint = errors.New("invalid history point")

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Store is the subset of the key-value store a series needs.
type Store interface {
	SortedInsertPrune(ctx context.Context, key string, score float64, member string, minScore float64, ttl time.Duration) error
	SortedRange(ctx context.Context, key string) ([]string, error)
}

// Series is one named daily series, stored per subject.
type Series struct {
	kv        Store
	name      string
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSeries creates a series that keeps points for retention.
func NewSeries(kv Store, name string, retention time.Duration, logger zerolog.Logger) *Series {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Series{
		kv:        kv,
		name:      name,
		retention: retention,
		logger:    logger.With().Str("component", "history").Str("series", name).Logger(),
		now:       time.Now,
	}
}

// Name returns the series name.
func (s *Series) Name() string {
	return s.name
}

func (s *Series) key(subjectID string) string {
	return fmt.Sprintf("history:%s:%s", s.name, subjectID)
}

// Record stores value for day and prunes the subject's points that fall
// outside the retention window.
func (s *Series) Record(ctx context.Context, subjectID, day string, value float64) error {
	date, ok := parseDay(day)
	if !ok {
		return fmt.Errorf("%w: day %q is not YYYY-MM-DD", ErrInvalidPoint, day)
	}
	if !validValue(value) {
		return fmt.Errorf("%w: value %v must be finite and non-negative", ErrInvalidPoint, value)
	}

	member := day + ":" + strconv.FormatFloat(value, 'f', -1, 64) + ":" + ulid.Make().String()
	cutoff := s.cutoff()

	err := s.kv.SortedInsertPrune(ctx, s.key(subjectID), float64(date.Unix()), member, float64(cutoff.Unix()), s.retention+24*time.Hour)
	if err != nil {
		return fmt.Errorf("record %s point: %w", s.name, err)
	}
	return nil
}

// cutoff is the oldest day still inside the retention window.
func (s *Series) cutoff() time.Time {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.Add(-s.retention)
}

// ReadHistory returns one point per day, ascending by day.
func (s *Series) ReadHistory(ctx context.Context, subjectID string) ([]models.HistoryPoint, error) {
	raw, err := s.kv.SortedRange(ctx, s.key(subjectID))
	if err != nil {
		return nil, fmt.Errorf("read %s history: %w", s.name, err)
	}

	points, skipped := Merge(raw)
	if skipped > 0 {
		metrics.HistoryMalformed.WithLabelValues(s.name).Add(float64(skipped))
		s.logger.Debug().Str("subject_id", subjectID).Int("skipped", skipped).Msg("skipped malformed history entries")
	}
	return points, nil
}

type rawPoint struct {
	day     string
	value   float64
	writeID string
}

// Merge parses stored members ("<day>:<value>" or "<day>:<value>:<writeID>"),
// drops malformed or invalid ones, keeps the most recent write per day and
// sorts by day. Entries without a write ID lose to any entry that has one;
// equal IDs resolve to the later entry. It returns the number of entries
// dropped as malformed.
func Merge(raw []string) ([]models.HistoryPoint, int) {
	latest := make(map[string]rawPoint, len(raw))
	skipped := 0

	for _, member := range raw {
		p, ok := parseMember(member)
		if !ok {
			skipped++
			continue
		}
		if cur, seen := latest[p.day]; seen && p.writeID < cur.writeID {
			continue
		}
		latest[p.day] = p
	}

	points := make([]models.HistoryPoint, 0, len(latest))
	for _, p := range latest {
		points = append(points, models.HistoryPoint{Day: p.day, Value: p.value})
	}
	// YYYY-MM-DD sorts lexically in date order
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })

	return points, skipped
}

func parseMember(member string) (rawPoint, bool) {
	parts := strings.SplitN(member, ":", 3)
	if len(parts) < 2 {
		return rawPoint{}, false
	}
	if _, ok := parseDay(parts[0]); !ok {
		return rawPoint{}, false
	}
	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || !validValue(value) {
		return rawPoint{}, false
	}

	p := rawPoint{day: parts[0], value: value}
	if len(parts) == 3 {
		if _, err := ulid.ParseStrict(parts[2]); err != nil {
			return rawPoint{}, false
		}
		p.writeID = parts[2]
	}
	return p, true
}

func parseDay(day string) (time.Time, bool) {
	if !dayPattern.MatchString(day) {
		return time.Time{}, false
	}
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func validValue(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
