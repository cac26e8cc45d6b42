package transfer

import "time"

// Clock abstracts time observation so estimator behavior can be tested
// deterministically.
type Clock interface {
	Now() time.Time
}

// systemClock uses the standard library time functions.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
