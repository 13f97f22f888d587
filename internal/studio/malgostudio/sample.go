package malgostudio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/tphakala/flac"

	"github.com/pointaudio/pointaudio/internal/errors"
)

// Sample is decoded PCM converted to the output format, interleaved.
type Sample struct {
	Rate     int
	Channels int
	Data     []float32
}

// Frames returns the sample length in frames.
func (s *Sample) Frames() int {
	if s == nil || s.Channels == 0 {
		return 0
	}
	return len(s.Data) / s.Channels
}

// Duration returns the playback length at the sample rate.
func (s *Sample) Duration() time.Duration {
	if s == nil || s.Rate == 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.Rate)
}

// DecodeFile reads a WAV or FLAC file and converts it to rate and channels.
func DecodeFile(path string, rate, channels int) (*Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	defer file.Close()

	var pcm []float32
	var srcRate, srcChannels int

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		pcm, srcRate, srcChannels, err = decodeWAV(file)
	case ".flac":
		pcm, srcRate, srcChannels, err = decodeFLAC(file)
	default:
		err = fmt.Errorf("unsupported sample format %q", ext)
	}
	if err != nil {
		return nil, errors.New(err).
			Component("malgostudio").
			Category(errors.CategoryFileParsing).
			Context("file", filepath.Base(path)).
			Build()
	}

	return convert(pcm, srcRate, srcChannels, rate, channels), nil
}

func decodeWAV(r io.ReadSeeker) (pcm []float32, rate, channels int, err error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("invalid WAV file format")
	}

	divisor, err := audioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, 0, 0, err
	}

	var buf *audio.IntBuffer
	buf, err = decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("reading WAV samples: %w", err)
	}

	pcm = make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		pcm[i] = float32(v) / divisor
	}
	return pcm, int(decoder.SampleRate), int(decoder.NumChans), nil
}

func decodeFLAC(r io.Reader) (pcm []float32, rate, channels int, err error) {
	decoder, err := flac.NewDecoder(r)
	if err != nil {
		return nil, 0, 0, err
	}

	divisor, err := audioDivisor(decoder.BitsPerSample)
	if err != nil {
		return nil, 0, 0, err
	}
	width := decoder.BitsPerSample / 8

	pcm = make([]float32, 0, int(decoder.TotalSamples)*decoder.NChannels)
	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, 0, 0, err
		}

		for i := 0; i+width <= len(frame); i += width {
			var sample int32
			switch width {
			case 2:
				sample = int32(int16(binary.LittleEndian.Uint16(frame[i:])))
			case 3:
				sample = int32(uint32(frame[i])|uint32(frame[i+1])<<8|uint32(frame[i+2])<<16) << 8 >> 8
			case 4:
				sample = int32(binary.LittleEndian.Uint32(frame[i:]))
			}
			pcm = append(pcm, float32(sample)/divisor)
		}
	}
	return pcm, decoder.SampleRate, decoder.NChannels, nil
}

func audioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported audio bit depth: %d", bitDepth)
	}
}

// convert remixes channels and linearly resamples interleaved pcm.
func convert(pcm []float32, srcRate, srcChannels, rate, channels int) *Sample {
	if srcChannels < 1 {
		srcChannels = 1
	}
	frames := len(pcm) / srcChannels

	// downmix or duplicate into the target channel layout first
	mixed := make([]float32, frames*channels)
	for f := range frames {
		src := pcm[f*srcChannels : (f+1)*srcChannels]
		for c := range channels {
			if srcChannels == channels {
				mixed[f*channels+c] = src[c]
				continue
			}
			var sum float32
			for _, v := range src {
				sum += v
			}
			mixed[f*channels+c] = sum / float32(srcChannels)
		}
	}

	if srcRate == rate || srcRate <= 0 || frames == 0 {
		return &Sample{Rate: rate, Channels: channels, Data: mixed}
	}

	ratio := float64(srcRate) / float64(rate)
	outFrames := int(float64(frames) / ratio)
	out := make([]float32, outFrames*channels)
	for f := range outFrames {
		pos := float64(f) * ratio
		i := int(pos)
		frac := float32(pos - float64(i))
		next := min(i+1, frames-1)
		for c := range channels {
			a := mixed[i*channels+c]
			b := mixed[next*channels+c]
			out[f*channels+c] = a + (b-a)*frac
		}
	}
	return &Sample{Rate: rate, Channels: channels, Data: out}
}
