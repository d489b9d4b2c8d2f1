package engine

import "fmt"

// ReserveSeal is the number of bytes subtracted from the caller's
// remaining buffer before each producer step, as a tail margin for the
// closing epilogue (§4.H "reserved tail margin (100 bytes)"). The
// rendered epilogue is 104 bytes, so it can still span two Fill calls;
// fillBody copies whatever part of it fits and resumes on the next call.
const ReserveSeal = 100

// Stats is the fixed shape of the sealed trailer appended to every JSON
// response (§4.H "Epilogue", §9 open question 3: the field set may grow,
// but each field keeps a fixed width once defined so an HTTP server's
// response-length probe sees stable framing).
type Stats struct {
	GenEpochSeconds int64
	GenMicros       int64
	GenerationCount uint32
	CacheHitPct     float64
	EtagHitPct      float64
}

// Render writes the epilogue's fixed-width byte form. Numeric fields are
// zero-padded to a constant width regardless of their actual magnitude,
// so two renders of the same shape always occupy the same number of
// bytes.
func (s Stats) Render() string {
	return fmt.Sprintf(
		`,"s":{"c":%020d,"u":%020d},"g":%010d,"chitpc":%06.2f,"ehitpc":%06.2f}`,
		s.GenEpochSeconds, s.GenMicros, s.GenerationCount, s.CacheHitPct, s.EtagHitPct,
	)
}

// RenderedLen is the exact byte length of Render's output (104 bytes,
// four more than ReserveSeal). The engine does not rely on the epilogue
// fitting inside ReserveSeal; see fillBody.
func RenderedLen() int {
	return len(Stats{}.Render())
}
