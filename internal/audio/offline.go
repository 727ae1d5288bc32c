// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"beatflux/internal/analysis"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mdobak/go-xerrors"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrInvalidWAV        = errors.New("not a valid WAV file")
	ErrEmptyAudio        = errors.New("audio file contains no samples")
)

// FileSource is a decoded audio file reduced to its first channel, scaled
// to the full int32 range like live input.
type FileSource struct {
	Path       string
	Format     string // "wav" or "mp3".
	SampleRate int
	Channels   int // Channels in the file before reduction.
	Samples    []int32
}

// LoadFile decodes a WAV or MP3 file, chosen by extension. Decoding errors
// carry a stack trace.
func LoadFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(fmt.Errorf("open audio file: %w", err))
	}
	defer f.Close()

	var src *FileSource
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		src, err = decodeWAV(f)
	case ".mp3":
		src, err = decodeMP3(f)
	default:
		return nil, xerrors.New(fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext))
	}
	if err != nil {
		return nil, err
	}
	if len(src.Samples) == 0 {
		return nil, xerrors.New(fmt.Errorf("%w: %s", ErrEmptyAudio, path))
	}
	src.Path = path
	logger.Debugf("decoded %s: %d frames at %d Hz (%s, %d channels)", path, len(src.Samples), src.SampleRate, src.Format, src.Channels)
	return src, nil
}

func decodeWAV(r io.ReadSeeker) (*FileSource, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, xerrors.New(ErrInvalidWAV)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, xerrors.New(fmt.Errorf("decode WAV: %w", err))
	}

	channels := int(d.NumChans)
	depth := int(d.BitDepth)
	if channels < 1 || depth < 8 || depth > 32 {
		return nil, xerrors.New(fmt.Errorf("%w: %d channels at %d bits", ErrInvalidWAV, channels, depth))
	}
	shift := uint(32 - depth)

	frames := len(buf.Data) / channels
	samples := make([]int32, frames)
	for i := range frames {
		v := buf.Data[i*channels]
		if depth == 8 {
			v -= 128 // 8-bit WAV is unsigned.
		}
		samples[i] = int32(v) << shift
	}
	return &FileSource{
		Format:     "wav",
		SampleRate: int(d.SampleRate),
		Channels:   channels,
		Samples:    samples,
	}, nil
}

// decodeMP3 reads the left channel of the decoder's 16-bit little-endian
// stereo output.
func decodeMP3(r io.Reader) (*FileSource, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, xerrors.New(fmt.Errorf("decode MP3: %w", err))
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, xerrors.New(fmt.Errorf("read MP3 frames: %w", err))
	}

	const frameBytes = 4 // Two channels of int16.
	frames := len(pcm) / frameBytes
	samples := make([]int32, frames)
	for i := range frames {
		left := int16(binary.LittleEndian.Uint16(pcm[i*frameBytes:]))
		samples[i] = int32(left) << 16
	}
	return &FileSource{
		Format:     "mp3",
		SampleRate: d.SampleRate(),
		Channels:   2,
		Samples:    samples,
	}, nil
}

// Duration returns the length of the decoded audio.
func (s *FileSource) Duration() time.Duration {
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Stream feeds the samples to proc in blocks of framesPerBuffer. The final
// partial block is zero padded. Cancellation is checked between blocks. It
// returns the number of blocks processed.
func (s *FileSource) Stream(ctx context.Context, framesPerBuffer int, proc analysis.AudioProcessor) (int, error) {
	if framesPerBuffer <= 0 {
		return 0, xerrors.New("frames per buffer must be positive")
	}
	block := make([]int32, framesPerBuffer)
	blocks := 0
	for off := 0; off < len(s.Samples); off += framesPerBuffer {
		if err := ctx.Err(); err != nil {
			return blocks, err
		}
		n := copy(block, s.Samples[off:])
		clear(block[n:])
		proc.Process(block)
		blocks++
	}
	return blocks, nil
}
