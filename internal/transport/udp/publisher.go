// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"beatflux/internal/analysis"
	applog "beatflux/internal/log"
)

var logger = applog.New("udp")

// Flag bits of the packet flags byte.
const (
	FlagPeak           = 1 << iota // Sample is an onset, set only on its first packet.
	FlagThresholdReady             // Threshold and pruned flux are defined.
	FlagTempoReady                 // Tempo is defined.
	FlagRepeat                     // Sample was already sent, the packet is a heartbeat.
)

// HeaderSize is the packet size without sub-band values.
const HeaderSize = 4 + 8 + 4 + 4 + 4 + 4 + 1 + 4 + 2

var (
	ErrNilSender      = errors.New("UDP sender cannot be nil")
	ErrNilSnapshotter = errors.New("snapshot source cannot be nil")
)

// UDPPublisher periodically packs the latest finalized onset sample into a
// binary packet and sends it with a UDPSender. Ticks before the first
// finalized sample send nothing.
type UDPPublisher struct {
	sender   Sender
	source   analysis.Snapshotter
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	sequenceNum uint32
	lastIndex   int
	packet      []byte // Reused between ticks.
}

// Sender is the subset of UDPSender the publisher needs.
type Sender interface {
	Send(data []byte) error
}

// NewUDPPublisher creates a publisher reading from source. An interval <= 0
// defaults to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender Sender, source analysis.Snapshotter) (*UDPPublisher, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if source == nil {
		return nil, ErrNilSnapshotter
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
		logger.Warnf("invalid interval provided, defaulting to %s", interval)
	}
	logger.Infof("initializing publisher (interval: %s)", interval)

	return &UDPPublisher{
		sender:    sender,
		source:    source,
		interval:  interval,
		lastIndex: -1,
		packet:    make([]byte, 0, HeaderSize+64*4),
	}, nil
}

// Start launches the publishing goroutine. Calling Start while running is a
// no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		logger.Warnf("Start called but already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				logger.Debugf("publisher goroutine received stop signal")
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it to exit. It is
// safe to call more than once.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	logger.Debugf("publisher stopped after %d packets", p.sequenceNum)
	return nil
}

/*
UDP packet layout, big-endian:

	| Field          | Type      | Bytes | Description                     |
	|----------------|-----------|-------|---------------------------------|
	| Sequence       | uint32    | 4     | Incremented per packet          |
	| Timestamp      | int64     | 8     | Sample time on the audio clock  |
	|                |           |       | in nanoseconds                  |
	| Index          | uint32    | 4     | Sample index                    |
	| Flux           | float32   | 4     | Rectified spectral flux         |
	| Threshold      | float32   | 4     | Adaptive threshold              |
	| Pruned         | float32   | 4     | Pruned flux                     |
	| Flags          | uint8     | 1     | Bit 0 peak, bit 1 threshold,    |
	|                |           |       | bit 2 tempo, bit 3 repeat       |
	| Tempo          | float32   | 4     | Peaks per minute                |
	| Band count     | uint16    | 2     | Number of sub-band values (N)   |
	| Sub-band flux  | []float32 | N*4   |                                 |
*/

// publish sends one packet for the latest finalized sample. A sample that
// was already delivered is sent again with FlagRepeat so receivers see a
// steady heartbeat without counting its peak twice.
func (p *UDPPublisher) publish() {
	snap := p.source.Snapshot()
	if !snap.Valid {
		return
	}
	repeat := snap.Latest.Index == p.lastIndex
	p.sequenceNum++
	p.packet = AppendPacket(p.packet[:0], p.sequenceNum, snap, repeat)

	if err := p.sender.Send(p.packet); err != nil {
		return // Sender logs.
	}
	if !repeat {
		p.lastIndex = snap.Latest.Index
		logger.Debugf("sent packet %d for sample %d (%d bytes)", p.sequenceNum, snap.Latest.Index, len(p.packet))
	}
}

// AppendPacket appends the encoded packet for snap to dst. A repeat packet
// carries FlagRepeat instead of FlagPeak.
func AppendPacket(dst []byte, seq uint32, snap analysis.Snapshot, repeat bool) []byte {
	s := snap.Latest
	threshold, thresholdOK := s.Threshold.Get()
	pruned, _ := s.PrunedFlux.Get()
	tempo, tempoOK := s.Tempo.Get()

	var flags byte
	switch {
	case repeat:
		flags |= FlagRepeat
	case s.Peak():
		flags |= FlagPeak
	}
	if thresholdOK {
		flags |= FlagThresholdReady
	}
	if tempoOK {
		flags |= FlagTempoReady
	}

	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(int64(s.Time*float64(time.Second))))
	dst = binary.BigEndian.AppendUint32(dst, uint32(s.Index))
	dst = appendFloat32(dst, s.SpectralFlux)
	dst = appendFloat32(dst, threshold)
	dst = appendFloat32(dst, pruned)
	dst = append(dst, flags)
	dst = appendFloat32(dst, tempo)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s.SubBandFlux)))
	for _, v := range s.SubBandFlux {
		dst = appendFloat32(dst, v)
	}
	return dst
}

func appendFloat32(dst []byte, v float64) []byte {
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v)))
}

// Close stops the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
