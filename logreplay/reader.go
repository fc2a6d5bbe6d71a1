// Package logreplay reads recorded flight logs and serves them to the altitude
// filter as an altkal.Stream.
//
// A log is a semicolon-separated file. Its first row carries the clock at the
// start of the recording and the ultrasonic and barometer offsets, every further
// row one measurement:
//
//	H;1000000;;0.12;;451.5
//	M;1002000;A;;;0.31
//	M;1004000;U;0.58;;
//	M;1004500;B;451.7;;
package logreplay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/westphae/altfusion/altkal"
)

// Layout describes where the fields of a log live. Columns are zero based.
type Layout struct {
	Comma rune `yaml:"comma"`

	HeaderT0         int `yaml:"header_t0"`
	HeaderUltrasonic int `yaml:"header_ultrasonic"`
	HeaderBarometer  int `yaml:"header_barometer"`

	Time       int `yaml:"time"`
	Tag        int `yaml:"tag"`
	Value      int `yaml:"value"`       // Ultrasonic, barometer and GPS readings
	AccelValue int `yaml:"accel_value"` // Accelerometer readings

	Tags map[string]altkal.Kind `yaml:"tags"`
}

// DefaultLayout is the layout written by the flight controller's logger.
func DefaultLayout() Layout {
	return Layout{
		Comma:            ';',
		HeaderT0:         1,
		HeaderUltrasonic: 3,
		HeaderBarometer:  5,
		Time:             1,
		Tag:              2,
		Value:            3,
		AccelValue:       5,
		Tags: map[string]altkal.Kind{
			"A": altkal.Accel,
			"U": altkal.Ultrasonic,
			"B": altkal.Barometer,
			"P": altkal.GPS,
		},
	}
}

// Validate checks that every column is addressable and every tag maps to a kind.
func (l Layout) Validate() error {
	for name, c := range map[string]int{
		"header_t0": l.HeaderT0, "header_ultrasonic": l.HeaderUltrasonic, "header_barometer": l.HeaderBarometer,
		"time": l.Time, "tag": l.Tag, "value": l.Value, "accel_value": l.AccelValue,
	} {
		if c < 0 {
			return fmt.Errorf("logreplay: column %s must not be negative, got %d", name, c)
		}
	}
	if l.Comma == 0 || l.Comma == '\n' || l.Comma == '\r' || l.Comma == '"' {
		return fmt.Errorf("logreplay: invalid separator %q", l.Comma)
	}
	for tag, k := range l.Tags {
		if k == altkal.Unknown {
			return fmt.Errorf("logreplay: tag %q maps to no measurement kind", tag)
		}
	}
	return nil
}

// ErrBadRecord is wrapped by the errors describing malformed rows.
var ErrBadRecord = errors.New("logreplay: bad record")

// Reader is an altkal.Stream over a log. Rows whose timestamp can't be read
// are logged and skipped; rows with an unknown tag or an unreadable value are
// passed on with kind Unknown so that the filter counts them.
type Reader struct {
	csv    *csv.Reader
	layout Layout
	log    *slog.Logger
	closer io.Closer

	header    altkal.Header
	headerErr error
	headerOK  bool

	line    int
	skipped int
}

// NewReader returns a Reader over r. A nil logger logs to slog.Default().
func NewReader(r io.Reader, layout Layout, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	c := csv.NewReader(r)
	c.Comma = layout.Comma
	c.FieldsPerRecord = -1
	c.LazyQuotes = true
	c.ReuseRecord = true
	return &Reader{csv: c, layout: layout, log: logger}
}

// Open returns a Reader over the named log file. Close releases it.
func Open(path string, layout Layout, logger *slog.Logger) (*Reader, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(f, layout, logger)
	r.closer = f
	return r, nil
}

// Close closes the underlying file if the Reader was opened with Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Skipped returns the number of rows dropped for an unreadable timestamp.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Header reads the first row of the log. It is safe to call more than once.
func (r *Reader) Header() (altkal.Header, error) {
	if r.headerOK || r.headerErr != nil {
		return r.header, r.headerErr
	}
	r.header, r.headerErr = r.readHeader()
	r.headerOK = r.headerErr == nil
	return r.header, r.headerErr
}

func (r *Reader) readHeader() (h altkal.Header, err error) {
	rec, err := r.csv.Read()
	r.line++
	if err != nil {
		return h, fmt.Errorf("%w: %v", altkal.ErrNoHeader, err)
	}
	if h.T0, err = parseInt(rec, r.layout.HeaderT0); err != nil {
		return h, fmt.Errorf("%w: start time: %v", altkal.ErrNoHeader, err)
	}
	if h.UltrasonicOffset, err = parseFloat(rec, r.layout.HeaderUltrasonic); err != nil {
		return h, fmt.Errorf("%w: ultrasonic offset: %v", altkal.ErrNoHeader, err)
	}
	if h.BarometerOffset, err = parseFloat(rec, r.layout.HeaderBarometer); err != nil {
		return h, fmt.Errorf("%w: barometer offset: %v", altkal.ErrNoHeader, err)
	}
	r.log.Debug("Replay: read header", "t0", h.T0, "ultrasonicOffset", h.UltrasonicOffset,
		"barometerOffset", h.BarometerOffset)
	return h, nil
}

// Next returns the next measurement of the log, io.EOF at its end.
func (r *Reader) Next() (m altkal.Measurement, err error) {
	if _, err = r.Header(); err != nil {
		return m, err
	}
	for {
		rec, err := r.csv.Read()
		if err == io.EOF {
			return m, io.EOF
		}
		r.line++
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				r.skipped++
				r.log.Warn("Replay: skipping unreadable row", "line", r.line, "err", err)
				continue
			}
			return m, err
		}
		if isBlank(rec) {
			continue
		}

		if m.T, err = parseInt(rec, r.layout.Time); err != nil {
			r.skipped++
			r.log.Warn("Replay: skipping row without timestamp", "line", r.line, "err", err)
			continue
		}

		tag := field(rec, r.layout.Tag)
		kind, ok := r.layout.Tags[tag]
		if !ok {
			r.log.Debug("Replay: unknown measurement tag", "line", r.line, "tag", tag)
			m.Kind, m.Value = altkal.Unknown, 0
			return m, nil
		}

		col := r.layout.Value
		if kind == altkal.Accel {
			col = r.layout.AccelValue
		}
		if m.Value, err = parseFloat(rec, col); err != nil {
			r.log.Warn("Replay: unreadable measurement value", "line", r.line, "tag", tag, "err", err)
			m.Kind, m.Value = altkal.Unknown, 0
			return m, nil
		}
		m.Kind = kind
		return m, nil
	}
}

func field(rec []string, col int) string {
	if col >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[col])
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseInt(rec []string, col int) (int64, error) {
	if col >= len(rec) {
		return 0, fmt.Errorf("%w: no column %d", ErrBadRecord, col)
	}
	v, err := strconv.ParseInt(field(rec, col), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return v, nil
}

func parseFloat(rec []string, col int) (float64, error) {
	if col >= len(rec) {
		return 0, fmt.Errorf("%w: no column %d", ErrBadRecord, col)
	}
	v, err := strconv.ParseFloat(field(rec, col), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return v, nil
}
