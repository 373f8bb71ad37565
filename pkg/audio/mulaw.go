// Package audio provides the telephone-bandwidth audio primitives used by the
// trunkline media pipeline: G.711 µ-law transcoding, linear-interpolation
// resampling, and RIFF/WAV header parsing.
//
// All PCM byte buffers are little-endian 16-bit mono unless stated otherwise.
package audio

import (
	"encoding/binary"

	"github.com/zaf/g711"
)

// MuLawEncode compresses 16-bit linear PCM samples to 8-bit G.711 µ-law.
func MuLawEncode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

// MuLawDecode expands 8-bit G.711 µ-law bytes to 16-bit linear PCM samples.
func MuLawDecode(ulaw []byte) []int16 {
	out := make([]int16, len(ulaw))
	for i, b := range ulaw {
		out[i] = g711.DecodeUlawFrame(b)
	}
	return out
}

// MuLawEncodeBytes compresses a little-endian PCM16 byte buffer to µ-law.
// Odd trailing bytes are ignored. This is the hot-path form used by the
// outbound media pipeline.
func MuLawEncodeBytes(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

// MuLawDecodeBytes expands µ-law bytes to a little-endian PCM16 byte buffer.
func MuLawDecodeBytes(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(g711.DecodeUlawFrame(b)))
	}
	return out
}
