package rules

import (
	"context"
	"time"
)

const yaraScanTimeout = 30 * time.Second

// scanTimeout maps the context deadline to a YARA scan timeout. YARA counts
// whole seconds and treats 0 as no limit, so the result is at least 1s.
func scanTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dl, ok := ctx.Deadline()
	if !ok {
		return yaraScanTimeout, nil
	}
	left := time.Until(dl)
	if left <= 0 {
		return 0, context.DeadlineExceeded
	}
	return max(left.Round(time.Second), time.Second), nil
}
