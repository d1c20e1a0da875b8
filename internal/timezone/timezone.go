// Package timezone pins observation timestamps to the Pacific reference zone.
package timezone

import (
	"time"
	_ "time/tzdata"
)

// Name is the IANA name of the reference timezone.
const Name = "America/Los_Angeles"

// Location is the loaded reference timezone.
var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation(Name)
	if err != nil {
		panic("load reference timezone: " + err.Error())
	}
}

// Now returns the current time in the reference timezone.
func Now() time.Time {
	return time.Now().In(Location)
}

// Stamp converts t to the reference timezone and truncates it to the minute.
func Stamp(t time.Time) time.Time {
	return t.In(Location).Truncate(time.Minute)
}
