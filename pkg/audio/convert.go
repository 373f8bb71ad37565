package audio

import "encoding/binary"

// ResampleLinear resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation between adjacent source samples. If srcRate == dstRate
// the input is returned unchanged. Output length is ceil(len * dstRate /
// srcRate). No anti-alias filter is applied; at telephone bandwidth (dst
// fixed at 8000 Hz, src typically 16000–24000 Hz) the artifacts are below
// the µ-law quantization floor.
func ResampleLinear(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	srcLen := int64(len(samples))
	dstLen := int((srcLen*int64(dstRate) + int64(srcRate) - 1) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := srcPos - float64(srcIdx)
		s0 := float64(samples[srcIdx])
		s1 := float64(samples[srcIdx+1])
		v := s0*(1-frac) + s1*frac
		out[i] = clampInt16(v)
	}
	return out
}

// ResampleMono16 is the byte-level form of [ResampleLinear] for little-endian
// PCM16 buffers, used by the outbound media pipeline.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	return SamplesToBytes(ResampleLinear(BytesToSamples(pcm), srcRate, dstRate))
}

// DownmixToMono averages the channels of interleaved PCM16 into mono. Uses
// int32 arithmetic to prevent overflow and clamps to int16 range. channels
// <= 1 returns the input unchanged.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[(i*channels+c)*2:])))
		}
		avg := sum / int32(channels)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampInt16(float64(avg))))
	}
	return out
}

// BytesToSamples converts a little-endian PCM16 byte buffer to int16 samples.
// Odd trailing bytes are ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes converts int16 samples to a little-endian PCM16 byte buffer.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
