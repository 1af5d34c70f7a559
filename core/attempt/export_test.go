package attempt

import (
	"math/rand"
	"time"
)

// SetNowFunc replaces the package clock; the returned func restores it.
func SetNowFunc(f func() time.Time) (restore func()) {
	orig := nowFunc
	nowFunc = f
	return func() { nowFunc = orig }
}

// SetSeed makes every new attempt order derive from `seed`.
func SetSeed(seed int64) (restore func()) {
	orig := newRandFunc
	newRandFunc = func() *rand.Rand { return rand.New(rand.NewSource(seed)) }
	return func() { newRandFunc = orig }
}
