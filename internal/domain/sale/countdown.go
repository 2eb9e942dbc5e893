package sale

import "time"

// CountdownView is a render-ready breakdown of the time left until Target.
type CountdownView struct {
	Phase   Phase
	Target  time.Time
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// Duration returns the remaining time as a single value.
func (v CountdownView) Duration() time.Duration {
	return time.Duration(v.Days)*24*time.Hour +
		time.Duration(v.Hours)*time.Hour +
		time.Duration(v.Minutes)*time.Minute +
		time.Duration(v.Seconds)*time.Second
}

// Remaining counts down to the start of an upcoming sale or the end of an
// active one. An ended sale yields zeros.
func Remaining(now time.Time, s *Sale) CountdownView {
	phase := s.Phase(now)
	switch phase {
	case PhaseUpcoming:
		return Until(now, s.StartDate, phase)
	case PhaseActive:
		return Until(now, s.EndDate, phase)
	default:
		return CountdownView{Phase: phase, Target: s.EndDate}
	}
}

// Until breaks target-now down into whole days, hours, minutes and seconds,
// truncating sub-second remainders and clamping at zero.
func Until(now, target time.Time, phase Phase) CountdownView {
	v := CountdownView{Phase: phase, Target: target}

	d := target.Sub(now)
	if d <= 0 {
		return v
	}

	secs := int64(d / time.Second)
	v.Days = int(secs / 86400)
	v.Hours = int(secs % 86400 / 3600)
	v.Minutes = int(secs % 3600 / 60)
	v.Seconds = int(secs % 60)
	return v
}
