// Package report turns the estimates of a filter run into files: a CSV table,
// a plot and a summary line.
package report

import (
	"errors"

	"github.com/westphae/altfusion/altkal"
)

// Sink consumes the estimates of a run.
type Sink interface {
	Write(altkal.Estimate) error
	Close() error
}

// Multi fans estimates out to several sinks.
type Multi []Sink

// Write hands est to every sink, stopping at the first error.
func (m Multi) Write(est altkal.Estimate) error {
	for _, s := range m {
		if err := s.Write(est); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns their errors joined.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Func adapts a function to a Sink with nothing to close.
type Func func(altkal.Estimate) error

func (f Func) Write(est altkal.Estimate) error { return f(est) }

func (f Func) Close() error { return nil }
