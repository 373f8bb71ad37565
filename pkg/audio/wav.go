package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupportedBits is returned by [ParseWAV] when the file's bit depth is
// not 16-bit PCM. Synthesis callers treat this as a non-fatal provider error.
var ErrUnsupportedBits = errors.New("audio: wav bit depth is not 16-bit PCM")

// WAVInfo describes the format parsed from a RIFF/WAVE header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	Bits       int
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ParseWAV extracts the raw PCM payload and format from a WAV buffer.
//
// The header is not assumed to be 44 bytes: the chunk list is walked from
// offset 12 until the "data" FourCC is found, so files with extension chunks
// (LIST, fact, ...) between fmt and data parse correctly. Multi-channel audio
// is downmixed to mono by averaging. A bit depth other than 16 returns
// [ErrUnsupportedBits].
func ParseWAV(data []byte) (pcm []byte, info WAVInfo, err error) {
	if !IsWAV(data) {
		return nil, WAVInfo{}, errors.New("audio: not a RIFF/WAVE buffer")
	}

	var haveFmt bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, WAVInfo{}, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", size)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			info.Bits = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, WAVInfo{}, errors.New("audio: wav data chunk precedes fmt chunk")
			}
			if info.Bits != 16 {
				return nil, info, fmt.Errorf("%w (got %d)", ErrUnsupportedBits, info.Bits)
			}
			pcm = data[body : body+size]
			if info.Channels > 1 {
				pcm = DownmixToMono(pcm, info.Channels)
				info.Channels = 1
			}
			return pcm, info, nil
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	return nil, info, errors.New("audio: wav data chunk not found")
}
