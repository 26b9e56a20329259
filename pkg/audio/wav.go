// Package audio provides the PCM/WAV plumbing between uploaded recordings
// and the speech-to-text providers: RIFF/WAV encode and decode for 16-bit
// signed little-endian PCM, stereo downmix, linear resampling, and the
// float32 conversion whisper.cpp expects.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WhisperSampleRate is the sample rate whisper.cpp models are trained on.
const WhisperSampleRate = 16000

const bitsPerSample = 16

// Format describes the sample rate and channel count of a PCM buffer.
type Format struct {
	SampleRate int
	Channels   int
}

// ErrNotWAV indicates the input is not a RIFF/WAV file this package can
// parse (missing RIFF header, compressed format, or unsupported bit depth).
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV file")

// EncodeWAV wraps raw 16-bit signed little-endian PCM in a standard RIFF/WAV
// container.
func EncodeWAV(pcm []byte, format Format) []byte {
	byteRate := format.SampleRate * format.Channels * bitsPerSample / 8
	blockAlign := format.Channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV extracts the raw PCM data and format from a RIFF/WAV file. Only
// uncompressed 16-bit PCM is supported; anything else returns [ErrNotWAV].
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		format  Format
		gotFmt  bool
		pcm     []byte
		gotData bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(wav) {
			return nil, Format{}, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			audioFormat := binary.LittleEndian.Uint16(wav[body : body+2])
			bits := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if audioFormat != 1 || bits != bitsPerSample {
				return nil, Format{}, fmt.Errorf("%w: format %d, %d bits", ErrNotWAV, audioFormat, bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			gotFmt = true
		case "data":
			pcm = wav[body : body+chunkSize]
			gotData = true
		}

		// Chunks are word-aligned.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !gotFmt || !gotData {
		return nil, Format{}, fmt.Errorf("%w: missing fmt or data chunk", ErrNotWAV)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, Format{}, fmt.Errorf("%w: invalid format %+v", ErrNotWAV, format)
	}
	return pcm, format, nil
}

// StereoToMono downmixes interleaved 16-bit stereo PCM by averaging the
// channel pair of each frame.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4 : i*4+2]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2 : i*4+4]))
		m := int16((int32(l) + int32(r)) / 2)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(m))
	}
	return out
}

// ResampleMono16 linearly resamples 16-bit mono PCM from one sample rate to
// another. Equal rates return the input unchanged.
func ResampleMono16(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	in := len(pcm) / 2
	if in == 0 {
		return nil
	}
	outSamples := in * toRate / fromRate
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		pos := float64(i) * float64(fromRate) / float64(toRate)
		j := int(pos)
		frac := pos - float64(j)
		a := int16(binary.LittleEndian.Uint16(pcm[j*2 : j*2+2]))
		b := a
		if j+1 < in {
			b = int16(binary.LittleEndian.Uint16(pcm[(j+1)*2 : (j+1)*2+2]))
		}
		v := int16(float64(a)*(1-frac) + float64(b)*frac)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}

// NormalizeForWhisper converts an arbitrary 16-bit PCM buffer into the 16 kHz
// mono layout whisper.cpp expects: downmix first, then resample.
func NormalizeForWhisper(pcm []byte, format Format) []byte {
	if format.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	return ResampleMono16(pcm, format.SampleRate, WhisperSampleRate)
}

// PCMToFloat32 converts 16-bit signed little-endian mono PCM samples into
// the normalized [-1, 1] float32 form the whisper.cpp bindings consume.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = float32(s) / 32768
	}
	return out
}
