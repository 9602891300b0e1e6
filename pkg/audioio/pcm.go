package audioio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrNotWAV is returned by DecodeWAV for data that is not PCM16 RIFF/WAVE.
var ErrNotWAV = errors.New("audioio: not a PCM16 wav file")

// Resample converts mono audio between sample rates using linear interpolation.
// Good enough for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int16, n)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		s1, s2 := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(s1 + frac*(s2-s1))
	}
	return out
}

// BytesToSamples converts little-endian PCM16 bytes to samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples to little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// ToMono averages interleaved channels down to one.
func ToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

// RMS returns the root mean square level in [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// EncodeWAV wraps PCM16 samples in a 44-byte RIFF/WAVE header.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)

	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}
	return buf
}

// DecodeWAV extracts PCM16 samples from a RIFF/WAVE file. Unknown chunks are
// skipped. A data chunk whose length is 0 or past the end of the input (as
// written by tools piping to stdout) runs to the end of the input.
func DecodeWAV(data []byte) (AudioChunk, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return AudioChunk{}, ErrNotWAV
	}

	var (
		chunk   AudioChunk
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		raw := binary.LittleEndian.Uint32(data[pos+4:])
		body := pos + 8
		size := len(data) - body
		if uint64(raw) < uint64(size) {
			size = int(raw)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return AudioChunk{}, ErrNotWAV
			}
			format := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || bits != 16 {
				return AudioChunk{}, fmt.Errorf("%w: format %d, %d bits", ErrNotWAV, format, bits)
			}
			chunk.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			chunk.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return AudioChunk{}, ErrNotWAV
			}
			end := body + size
			if raw == 0 {
				end = len(data)
			}
			chunk.Samples = BytesToSamples(data[body:end])
			return chunk, nil
		}

		pos = body + size + size%2
	}
	return AudioChunk{}, ErrNotWAV
}
