package snapshot

import "time"

// Clock is the refresher's only source of "now". Each committed snapshot
// carries the instant its fetch started as TakenAt.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
