// SPDX-License-Identifier: MIT
package transport

import (
	"beatflux/internal/onset"
)

// LoggingTransport implements the Transport interface by logging data to the console.
// Peaks are logged at info level, everything else at debug level.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	logger.Debugf("using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	s, ok := data.(onset.Sample)
	if !ok {
		logger.Debugf("received (%T): %+v", data, data)
		return nil
	}
	if s.Peak() {
		if tempo, ok := s.Tempo.Get(); ok {
			logger.Infof("onset at sample %d (t=%.3fs, flux %.1f, tempo %.1f/min)", s.Index, s.Time, s.SpectralFlux, tempo)
		} else {
			logger.Infof("onset at sample %d (t=%.3fs, flux %.1f)", s.Index, s.Time, s.SpectralFlux)
		}
		return nil
	}
	threshold, _ := s.Threshold.Get()
	logger.Debugf("sample %d flux %.1f threshold %.1f", s.Index, s.SpectralFlux, threshold)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	logger.Debugf("LoggingTransport closed")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
