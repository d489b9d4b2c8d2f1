package engine

// Sink is the intermediate byte queue a Producer appends newly produced
// output into and the Context drains from into the caller's buffer. It
// generalizes the archive producer's spill-buffer pattern (spec §4.H.2)
// to every job. The Sink itself is unbounded: producers keep each Step
// within maxBytes, except that the first atomic unit of a call (a header,
// an item, a blob body) is always written in full and drains over later
// Fill calls.
type Sink struct {
	buf []byte
}

// Write implements io.Writer so producers can use fmt.Fprintf/json
// encoders directly against a Sink.
func (s *Sink) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// WriteString appends a string without an extra []byte conversion at the
// call site.
func (s *Sink) WriteString(str string) {
	s.buf = append(s.buf, str...)
}

// Drain copies as much pending data as fits into dst, consuming it from
// the sink, and returns how many bytes were copied.
func (s *Sink) Drain(dst []byte) int {
	n := copy(dst, s.buf)
	s.buf = s.buf[n:]
	return n
}

// Len reports how many bytes are pending.
func (s *Sink) Len() int { return len(s.buf) }

// Reset discards any pending bytes.
func (s *Sink) Reset() { s.buf = s.buf[:0] }
