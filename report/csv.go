package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/westphae/altfusion/altkal"
)

var channelNames = [altkal.NumChannels]string{"ultrasonic", "barometer", "gps"}

// Columns lists the CSV header.
func Columns() []string {
	cols := []string{"step", "t", "kind", "elapsed",
		"altitude", "altitudeLower", "altitudeUpper",
		"velocity", "velocityLower", "velocityUpper",
		"predicted", "distance"}
	for _, c := range channelNames {
		cols = append(cols, c+"Valid", c, c+"Lower", c+"Upper")
	}
	return cols
}

// CSV writes one row per estimate.
type CSV struct {
	w      *bufio.Writer
	closer io.Closer
	fmt    string
	vals   []interface{}
}

// NewCSV writes the header to w and returns a CSV writing rows after it.
func NewCSV(w io.Writer) (*CSV, error) {
	l := &CSV{w: bufio.NewWriter(w)}
	if _, err := fmt.Fprint(l.w, strings.Join(Columns(), ","), "\n"); err != nil {
		return nil, err
	}
	s := "%d,%d,%s," + strings.Repeat("%f,", 9) + strings.Repeat("%t,%f,%f,%f,", altkal.NumChannels)
	l.fmt = s[:len(s)-1] + "\n"
	l.vals = make([]interface{}, 0, len(Columns()))
	return l, nil
}

// CreateCSV creates the file at path and writes estimates to it.
func CreateCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	l, err := NewCSV(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.closer = f
	return l, nil
}

func (l *CSV) Write(est altkal.Estimate) error {
	l.vals = append(l.vals[:0], est.Step, est.T, est.Kind, est.Elapsed,
		est.Altitude, est.AltitudeLower, est.AltitudeUpper,
		est.Velocity, est.VelocityLower, est.VelocityUpper,
		est.Predicted, est.Distance)
	for _, c := range est.Channels {
		l.vals = append(l.vals, c.Valid, c.Value, c.Lower, c.Upper)
	}
	_, err := fmt.Fprintf(l.w, l.fmt, l.vals...)
	return err
}

// Close flushes the rows and closes the file if made by CreateCSV.
func (l *CSV) Close() error {
	err := l.w.Flush()
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
