package report

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "gonum.org/v1/plot/vg/vgimg"
	_ "gonum.org/v1/plot/vg/vgsvg"

	"github.com/westphae/altfusion/altkal"
)

// DefaultSeries draws everything but the error bands, clipped to ±2 m.
const DefaultSeries = "fvubpd2"

// Series selects what a Plot draws. It is parsed from a string of letters:
// f fused altitude, v velocity, u ultrasonic, b barometer, g gps, p predicted
// altitude, d distance travelled during the time update. An "e" after f, v, u,
// b or g adds the ±2σ band of that series, and "2" clips the y axis to ±2 m.
type Series struct {
	Fusion, FusionBand         bool
	Velocity, VelocityBand     bool
	Ultrasonic, UltrasonicBand bool
	Barometer, BarometerBand   bool
	GPS, GPSBand               bool
	Predicted                  bool
	Distance                   bool
	Clip                       bool
}

// ParseSeries parses a series selection such as "fevub2".
func ParseSeries(s string) (Series, error) {
	for _, r := range s {
		if !strings.ContainsRune("fvubgpde2", r) {
			return Series{}, fmt.Errorf("report: unknown plot series %q in %q", r, s)
		}
	}
	return Series{
		Fusion:         strings.Contains(s, "f"),
		FusionBand:     strings.Contains(s, "fe"),
		Velocity:       strings.Contains(s, "v"),
		VelocityBand:   strings.Contains(s, "ve"),
		Ultrasonic:     strings.Contains(s, "u"),
		UltrasonicBand: strings.Contains(s, "ue"),
		Barometer:      strings.Contains(s, "b"),
		BarometerBand:  strings.Contains(s, "be"),
		GPS:            strings.Contains(s, "g"),
		GPSBand:        strings.Contains(s, "ge"),
		Predicted:      strings.Contains(s, "p"),
		Distance:       strings.Contains(s, "d"),
		Clip:           strings.Contains(s, "2"),
	}, nil
}

var (
	blue    = color.RGBA{B: 255, A: 255}
	red     = color.RGBA{R: 255, A: 255}
	green   = color.RGBA{G: 160, A: 255}
	yellow  = color.RGBA{R: 220, G: 200, A: 255}
	orange  = color.RGBA{R: 255, G: 140, A: 255}
	cyan    = color.RGBA{G: 200, B: 200, A: 255}
	magenta = color.RGBA{R: 200, B: 200, A: 255}
)

type band struct {
	mid, lower, upper plotter.XYs
}

func (b *band) add(t, mid, lower, upper float64) {
	b.mid = appendFinite(b.mid, t, mid)
	b.lower = appendFinite(b.lower, t, lower)
	b.upper = appendFinite(b.upper, t, upper)
}

// appendFinite drops points plotter can't draw, like the bounds of a channel
// whose variance overflowed.
func appendFinite(xys plotter.XYs, x, y float64) plotter.XYs {
	if math.IsInf(y, 0) || math.IsNaN(y) {
		return xys
	}
	return append(xys, plotter.XY{X: x, Y: y})
}

// Plot collects estimates and renders them as a time series chart on Close.
type Plot struct {
	Title         string
	Width, Height vg.Length

	path   string
	series Series

	fusion, velocity band
	channels         [altkal.NumChannels]band
	predicted        plotter.XYs
	distance         plotter.XYs
}

// NewPlot returns a Plot saved to path, in the image format of its extension.
func NewPlot(path string, series Series) *Plot {
	return &Plot{
		Title:  "Fusion",
		Width:  10 * vg.Inch,
		Height: 5 * vg.Inch,
		path:   path,
		series: series,
	}
}

func (p *Plot) Write(est altkal.Estimate) error {
	t := est.Elapsed
	p.fusion.add(t, est.Altitude, est.AltitudeLower, est.AltitudeUpper)
	p.velocity.add(t, est.Velocity, est.VelocityLower, est.VelocityUpper)
	for i, c := range est.Channels {
		if c.Valid {
			p.channels[i].add(t, c.Value, c.Lower, c.Upper)
		}
	}
	p.predicted = appendFinite(p.predicted, t, est.Predicted)
	p.distance = appendFinite(p.distance, t, est.Distance)
	return nil
}

// Close renders the chart to the file.
func (p *Plot) Close() error {
	pl, err := p.Render()
	if err != nil {
		return err
	}
	return pl.Save(p.Width, p.Height, p.path)
}

// Render builds the chart from the estimates written so far.
func (p *Plot) Render() (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = p.Title
	pl.X.Label.Text = "t (s)"
	pl.Y.Label.Text = "m, m/s"
	pl.Legend.Top = true
	pl.Add(plotter.NewGrid())

	s := p.series
	for _, b := range []struct {
		on, withBand bool
		name         string
		c            color.Color
		data         band
	}{
		{s.Fusion, s.FusionBand, "Fusion", blue, p.fusion},
		{s.Velocity, s.VelocityBand, "Velocity", red, p.velocity},
		{s.Ultrasonic, s.UltrasonicBand, "Ultrasonic", green, p.channels[altkal.ChannelUltrasonic]},
		{s.Barometer, s.BarometerBand, "Barometer", yellow, p.channels[altkal.ChannelBarometer]},
		{s.GPS, s.GPSBand, "GPS", orange, p.channels[altkal.ChannelGPS]},
	} {
		if !b.on || len(b.data.mid) == 0 {
			continue
		}
		if err := addLine(pl, b.name, b.c, b.data.mid, false); err != nil {
			return nil, err
		}
		if b.withBand && len(b.data.lower) > 0 {
			if err := addLine(pl, "", b.c, b.data.lower, true); err != nil {
				return nil, err
			}
			if err := addLine(pl, "", b.c, b.data.upper, true); err != nil {
				return nil, err
			}
		}
	}
	if s.Predicted && len(p.predicted) > 0 {
		if err := addLine(pl, "Prediction", cyan, p.predicted, false); err != nil {
			return nil, err
		}
	}
	if s.Distance && len(p.distance) > 0 {
		if err := addLine(pl, "Distance", magenta, p.distance, false); err != nil {
			return nil, err
		}
	}
	if s.Clip {
		pl.Y.Min, pl.Y.Max = -2, 2
	}
	return pl, nil
}

func addLine(pl *plot.Plot, name string, c color.Color, xys plotter.XYs, dashed bool) error {
	l, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("report: %s: %w", name, err)
	}
	l.LineStyle.Color = c
	l.LineStyle.Width = vg.Points(1)
	if dashed {
		l.LineStyle.Dashes = []vg.Length{vg.Points(3), vg.Points(2)}
	}
	pl.Add(l)
	if name != "" {
		pl.Legend.Add(name, l)
	}
	return nil
}
