// Package timewindow derives the simulated (start, end) time window each
// generation of a study runs over.
package timewindow

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nvandessel/simbatch/internal/constants"
	"github.com/nvandessel/simbatch/internal/study"
)

// ErrInvalidTimeSpec marks a start_datetime or timezone that cannot be used.
// It is fatal: a wrong simulated time would corrupt every run in the batch.
var ErrInvalidTimeSpec = errors.New("invalid time specification")

// Window is the simulated time span of one generation, in Unix seconds.
type Window struct {
	Generation int   `json:"generation"`
	Start      int64 `json:"start_timestamp"`
	End        int64 `json:"end_timestamp"`
}

// layouts are tried in order for timestamps without an explicit offset.
var layouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Deriver computes start times. Random selection draws from its source;
// sequential selection is deterministic.
type Deriver struct {
	rng *rand.Rand
}

// NewDeriver creates a Deriver drawing random start times from rng.
// A nil rng uses a clock-seeded source.
func NewDeriver(rng *rand.Rand) *Deriver {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Deriver{rng: rng}
}

// ForStudy creates a Deriver seeded from study.seed, or from the clock when
// the seed is 0.
func ForStudy(s study.Study) *Deriver {
	if s.Seed == 0 {
		return NewDeriver(nil)
	}
	seed := uint64(s.Seed)
	return NewDeriver(rand.New(rand.NewPCG(seed, seed)))
}

// Window returns the generation's window: start from StartTime and
// end = start + days*1440.
func (d *Deriver) Window(s study.Study, generation int) (Window, error) {
	start, err := d.StartTime(s, generation)
	if err != nil {
		return Window{}, err
	}
	return Window{
		Generation: generation,
		Start:      start,
		End:        start + int64(s.Days*constants.MinutesPerDay),
	}, nil
}

// StartTime returns the start timestamp for a generation.
//
//   - A single timestamp is used for every generation.
//   - A [begin, end] range yields, in sequential mode, the start of bucket
//     g of `generations` equal whole-minute buckets; otherwise a uniformly
//     random whole minute in [begin, end).
//   - Any other list yields element g mod len in sequential mode; otherwise a
//     uniformly random element.
func (d *Deriver) StartTime(s study.Study, generation int) (int64, error) {
	if generation < 0 {
		return 0, fmt.Errorf("%w: negative generation %d", ErrInvalidTimeSpec, generation)
	}
	loc, err := location(s.Timezone)
	if err != nil {
		return 0, err
	}

	spec := s.StartDatetime
	values := spec.Values()
	switch {
	case spec.IsZero() || len(values) == 0:
		return 0, fmt.Errorf("%w: start_datetime is not set", ErrInvalidTimeSpec)

	case spec.IsSingle():
		return parseTimestamp(values[0], loc)

	case spec.IsRange():
		begin, err := parseTimestamp(values[0], loc)
		if err != nil {
			return 0, err
		}
		end, err := parseTimestamp(values[1], loc)
		if err != nil {
			return 0, err
		}
		if end <= begin {
			return 0, fmt.Errorf("%w: start_datetime range end %q is not after begin %q", ErrInvalidTimeSpec, values[1], values[0])
		}
		if s.Sequential() {
			return sequentialInRange(begin, end, s.Generations, generation)
		}
		minutes := (end - begin + 59) / 60
		return begin + 60*d.rng.Int64N(minutes), nil

	default:
		idx := generation % len(values)
		if !s.Sequential() {
			idx = d.rng.IntN(len(values))
		}
		return parseTimestamp(values[idx], loc)
	}
}

// sequentialInRange splits [begin, end) into generations buckets of whole
// minutes and returns the start of bucket generation.
func sequentialInRange(begin, end int64, generations, generation int) (int64, error) {
	if generations < 1 {
		return 0, fmt.Errorf("%w: sequential start times need generations >= 1", ErrInvalidTimeSpec)
	}
	interval := (end - begin) / int64(generations) / 60 * 60
	if interval <= 0 {
		return 0, fmt.Errorf("%w: range too short for %d whole-minute generations", ErrInvalidTimeSpec, generations)
	}
	start := begin + int64(generation)*interval
	if start >= end {
		return 0, fmt.Errorf("%w: generation %d falls outside the start_datetime range", ErrInvalidTimeSpec, generation)
	}
	return start, nil
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return nil, fmt.Errorf("%w: timezone is not set", ErrInvalidTimeSpec)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q: %v", ErrInvalidTimeSpec, tz, err)
	}
	return loc, nil
}

// parseTimestamp parses ts in loc. Timestamps carrying their own offset
// (RFC 3339) keep it.
func parseTimestamp(ts string, loc *time.Location) (int64, error) {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.Unix(), nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, ts, loc); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("%w: cannot parse timestamp %q", ErrInvalidTimeSpec, ts)
}
