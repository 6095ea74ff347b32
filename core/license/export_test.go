package license

import "time"

// SetNow freezes the clock used to decide which grants are active.
func SetNow(now time.Time) (restore func()) {
	orig := nowFunc
	nowFunc = func() time.Time { return now }
	return func() { nowFunc = orig }
}
