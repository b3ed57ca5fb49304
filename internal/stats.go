package internal

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
)

// AppStats atomic counters for totals
type AppStats struct {
	start        time.Time
	ItemsFound   atomic.Int64
	ItemsScanned atomic.Int64
	BytesScanned atomic.Int64
	Matches      atomic.Int64
	Errors       atomic.Int64
}

func (s *AppStats) Start() {
	s.start = time.Now()
}

func (s *AppStats) Elapsed() time.Duration {
	return time.Since(s.start)
}

func (s *AppStats) String() string {
	return fmt.Sprintf("found=%d scanned=%d (%s) matches=%d errors=%d elapsed=%s",
		s.ItemsFound.Load(), s.ItemsScanned.Load(),
		units.HumanSize(float64(s.BytesScanned.Load())),
		s.Matches.Load(), s.Errors.Load(), s.Elapsed().Round(time.Millisecond))
}
