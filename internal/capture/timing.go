package capture

import "time"

func nowIfDetailed(detailed bool) time.Time {
	if !detailed {
		return time.Time{}
	}

	return time.Now()
}

func sinceIfDetailed(start time.Time) int64 {
	if start.IsZero() {
		return 0
	}

	return int64(time.Since(start))
}
