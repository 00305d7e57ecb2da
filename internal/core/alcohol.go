package core

import "time"

// AlcoholWindow is the local-time span in which orders containing alcohol may
// be delivered. StartHour is inclusive and EndHour exclusive.
type AlcoholWindow struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// DefaultAlcoholWindow allows alcohol between 08:00 and 22:00 UTC.
func DefaultAlcoholWindow() AlcoholWindow {
	return AlcoholWindow{StartHour: 8, EndHour: 22, Location: time.UTC}
}

// Allows reports whether alcohol may be delivered at t.
func (w AlcoholWindow) Allows(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	return h >= w.StartHour && h < w.EndHour
}
