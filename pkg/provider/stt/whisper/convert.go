package whisper

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/MrWong99/vishguard/pkg/provider/stt"
)

// bitsPerSample is the only PCM sample width decodeWAV accepts.
const bitsPerSample = 16

// pcmScale maps a signed 16-bit sample onto [-1, 1).
const pcmScale = 1.0 / 32768

func sampleAt(pcm []byte, i int) float32 {
	return float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) * pcmScale
}

// pcmToFloat32 converts 16-bit little-endian PCM to float samples. A
// trailing odd byte is dropped.
func pcmToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = sampleAt(pcm, i)
	}
	return out
}

// pcmToFloat32Mono averages interleaved channels into one. Incomplete
// trailing frames are dropped.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	out := make([]float32, len(pcm)/(2*channels))
	for frame := range out {
		var sum float32
		for ch := range channels {
			sum += sampleAt(pcm, frame*channels+ch)
		}
		out[frame] = sum / float32(channels)
	}
	return out
}

// wavInfo describes the PCM payload of a WAV file.
type wavInfo struct {
	sampleRate int
	channels   int
	pcm        []byte
}

// decodeWAV parses a RIFF/WAVE container holding 16-bit integer PCM and
// returns its format and sample data. Unknown chunks are skipped.
func decodeWAV(data []byte) (wavInfo, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return wavInfo{}, fmt.Errorf("%w: not a RIFF/WAVE file", stt.ErrUnsupportedFormat)
	}
	var info wavInfo
	var haveFmt bool
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return wavInfo{}, fmt.Errorf("%w: short fmt chunk", stt.ErrUnsupportedFormat)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			info.channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, which wraps plain PCM here.
			if (format != 1 && format != 0xFFFE) || bits != bitsPerSample {
				return wavInfo{}, fmt.Errorf("%w: format %d with %d bits, want 16-bit PCM", stt.ErrUnsupportedFormat, format, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return wavInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", stt.ErrUnsupportedFormat)
			}
			info.pcm = data[body:end]
			if info.channels < 1 || info.sampleRate < 1 {
				return wavInfo{}, fmt.Errorf("%w: %d channels at %d Hz", stt.ErrUnsupportedFormat, info.channels, info.sampleRate)
			}
			return info, nil
		}
		off = body + size + size%2
	}
	return wavInfo{}, fmt.Errorf("%w: no data chunk", stt.ErrUnsupportedFormat)
}

// resampleLinear converts mono samples from one rate to another by linear
// interpolation.
func resampleLinear(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 || from <= 0 || to <= 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		frac := float32(pos - float64(j))
		if j+1 < len(in) {
			out[i] = in[j]*(1-frac) + in[j+1]*frac
		} else {
			out[i] = in[len(in)-1]
		}
	}
	return out
}
