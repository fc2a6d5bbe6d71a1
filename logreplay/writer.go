package logreplay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/westphae/altfusion/altkal"
)

// Writer writes measurements in the log format a Reader with the same Layout
// reads back.
type Writer struct {
	csv    *csv.Writer
	layout Layout
	tags   map[altkal.Kind]string
	width  int
	closer io.Closer
}

// NewWriter returns a Writer to w.
func NewWriter(w io.Writer, layout Layout) *Writer {
	c := csv.NewWriter(w)
	c.Comma = layout.Comma

	// Several tags may share a kind; write the first in sort order.
	names := make([]string, 0, len(layout.Tags))
	for tag := range layout.Tags {
		names = append(names, tag)
	}
	sort.Strings(names)
	tags := make(map[altkal.Kind]string)
	for _, tag := range names {
		if _, ok := tags[layout.Tags[tag]]; !ok {
			tags[layout.Tags[tag]] = tag
		}
	}

	width := 0
	for _, col := range []int{layout.HeaderT0, layout.HeaderUltrasonic, layout.HeaderBarometer,
		layout.Time, layout.Tag, layout.Value, layout.AccelValue} {
		if col+1 > width {
			width = col + 1
		}
	}
	return &Writer{csv: c, layout: layout, tags: tags, width: width}
}

// Create returns a Writer to a new file at path.
func Create(path string, layout Layout) (*Writer, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f, layout)
	w.closer = f
	return w, nil
}

// WriteHeader writes the opening row. It must be written first.
func (w *Writer) WriteHeader(h altkal.Header) error {
	rec := make([]string, w.width)
	rec[w.layout.HeaderT0] = strconv.FormatInt(h.T0, 10)
	rec[w.layout.HeaderUltrasonic] = formatFloat(h.UltrasonicOffset)
	rec[w.layout.HeaderBarometer] = formatFloat(h.BarometerOffset)
	return w.csv.Write(rec)
}

// Write writes one measurement row.
func (w *Writer) Write(m altkal.Measurement) error {
	tag, ok := w.tags[m.Kind]
	if !ok {
		return fmt.Errorf("logreplay: no tag for measurement kind %s", m.Kind)
	}
	rec := make([]string, w.width)
	rec[w.layout.Time] = strconv.FormatInt(m.T, 10)
	rec[w.layout.Tag] = tag
	if m.Kind == altkal.Accel {
		rec[w.layout.AccelValue] = formatFloat(m.Value)
	} else {
		rec[w.layout.Value] = formatFloat(m.Value)
	}
	return w.csv.Write(rec)
}

// Close flushes the log and closes the file if the Writer was made by Create.
func (w *Writer) Close() error {
	w.csv.Flush()
	err := w.csv.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
