package altkal

import "io"

// Stream is a forward-only source of measurements. Header is read once before
// the first call to Next; Next returns io.EOF when the stream is exhausted.
type Stream interface {
	Header() (Header, error)
	Next() (Measurement, error)
}

// SliceStream replays measurements held in memory.
type SliceStream struct {
	h  Header
	ms []Measurement
	ix int
}

// NewSliceStream returns a Stream yielding header h followed by ms.
func NewSliceStream(h Header, ms ...Measurement) *SliceStream {
	return &SliceStream{h: h, ms: ms}
}

func (s *SliceStream) Header() (Header, error) {
	return s.h, nil
}

func (s *SliceStream) Next() (Measurement, error) {
	if s.ix >= len(s.ms) {
		return Measurement{}, io.EOF
	}
	m := s.ms[s.ix]
	s.ix++
	return m, nil
}

// DropoutFunc reports whether measurement m, the step'th of the stream, is to be
// suppressed.
type DropoutFunc func(step int, m Measurement) bool

// StepWindow suppresses measurements of kind k with from < step < to.
func StepWindow(k Kind, from, to int) DropoutFunc {
	return func(step int, m Measurement) bool {
		return m.Kind == k && from < step && step < to
	}
}

// TimeWindow suppresses measurements of kind k with from <= T < to.
func TimeWindow(k Kind, from, to int64) DropoutFunc {
	return func(_ int, m Measurement) bool {
		return m.Kind == k && from <= m.T && m.T < to
	}
}
