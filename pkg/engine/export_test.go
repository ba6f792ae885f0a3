package engine

import "time"

// SetNow replaces the package clock and returns a restore func.
func SetNow(f func() time.Time) func() {
	prev := now
	now = f
	return func() { now = prev }
}

// SetNewUUID replaces the id generator and returns a restore func.
func SetNewUUID(f func() string) func() {
	prev := newUUID
	newUUID = f
	return func() { newUUID = prev }
}
