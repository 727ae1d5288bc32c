// SPDX-License-Identifier: MIT
package transport

import (
	"errors"

	"beatflux/internal/log"
)

var logger = log.New("transport")

// Transport defines a generic interface for sending processed data or events.
// Implementations must be safe for concurrent use and must not block the
// caller, Send is invoked from the audio path.
type Transport interface {
	Send(data any) error
	Close() error
}

// Fanout sends every message to each of its transports.
type Fanout []Transport

// Send forwards data to every transport and joins their errors.
func (f Fanout) Send(data any) error {
	var errs []error
	for _, t := range f {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every transport and joins their errors.
func (f Fanout) Close() error {
	var errs []error
	for _, t := range f {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Fanout(nil)
