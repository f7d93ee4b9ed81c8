package tag

// Accept decides whether u supersedes the state held in rec. It has no
// side effects. Timestamps are compared in decreasing order of trust:
// server, then DAQ, then source. A zero timestamp means the clock was
// unavailable, never that it is newer.
func Accept(rec *Record, u *Update) bool {
	if rec == nil || u == nil || rec.ID != u.TagID || u.ServerTimestamp.IsZero() {
		return false
	}
	if u.ServerTimestamp.After(rec.ServerTimestamp) {
		return true
	}
	if !u.ServerTimestamp.Equal(rec.ServerTimestamp) || u.DAQTimestamp.IsZero() {
		return false
	}

	if rec.DAQTimestamp.IsZero() || u.DAQTimestamp.After(rec.DAQTimestamp) {
		return true
	}
	if !u.DAQTimestamp.Equal(rec.DAQTimestamp) {
		return false
	}

	if !u.SourceTimestamp.IsZero() {
		// Source clocks are not trusted to be monotonic: any different
		// source time at equal server and DAQ time is a new reading.
		return rec.SourceTimestamp.IsZero() ||
			u.Full ||
			!u.SourceTimestamp.Equal(rec.SourceTimestamp)
	}
	return u.Full && rec.SourceTimestamp.IsZero()
}
