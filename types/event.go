package types

// LogEvent is one packet record parsed from a transmit or receive log.
type LogEvent struct {
	Timestamp int64  // milliseconds
	Seq       uint64 // sequence number, implicit (1-based position) for two-field lines
	Size      int    // payload byte count
	Payload   string // optional payload identifier
	Line      int    // source line number
}
