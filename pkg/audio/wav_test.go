package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/trunkline/pkg/audio"
)

// buildWAV assembles a minimal RIFF/WAVE buffer. extraChunks are inserted
// between the fmt and data chunks to exercise non-standard header layouts.
func buildWAV(t *testing.T, sampleRate, channels, bits int, pcm []byte, extraChunks ...[]byte) []byte {
	t.Helper()

	var body []byte

	fmtChunk := make([]byte, 8+16)
	copy(fmtChunk, "fmt ")
	binary.LittleEndian.PutUint32(fmtChunk[4:], 16)
	binary.LittleEndian.PutUint16(fmtChunk[8:], 1) // PCM
	binary.LittleEndian.PutUint16(fmtChunk[10:], uint16(channels))
	binary.LittleEndian.PutUint32(fmtChunk[12:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(fmtChunk[16:], uint32(sampleRate*channels*bits/8))
	binary.LittleEndian.PutUint16(fmtChunk[20:], uint16(channels*bits/8))
	binary.LittleEndian.PutUint16(fmtChunk[22:], uint16(bits))
	body = append(body, fmtChunk...)

	for _, c := range extraChunks {
		body = append(body, c...)
	}

	dataChunk := make([]byte, 8)
	copy(dataChunk, "data")
	binary.LittleEndian.PutUint32(dataChunk[4:], uint32(len(pcm)))
	body = append(body, dataChunk...)
	body = append(body, pcm...)

	out := make([]byte, 12)
	copy(out, "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(4+len(body)))
	copy(out[8:], "WAVE")
	return append(out, body...)
}

func TestParseWAV_Standard(t *testing.T) {
	pcm := audio.SamplesToBytes([]int16{1, 2, 3, 4})
	buf := buildWAV(t, 24000, 1, 16, pcm)

	got, info, err := audio.ParseWAV(buf)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 || info.Bits != 16 {
		t.Errorf("info: got %+v", info)
	}
	if len(got) != len(pcm) {
		t.Fatalf("pcm length: got %d, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("pcm byte %d differs", i)
		}
	}
}

func TestParseWAV_DataChunkBeyondOffset44(t *testing.T) {
	// A LIST chunk between fmt and data pushes the data chunk to offset 78,
	// as some encoders produce.
	list := make([]byte, 8+26)
	copy(list, "LIST")
	binary.LittleEndian.PutUint32(list[4:], 26)

	pcm := audio.SamplesToBytes([]int16{7, -7})
	buf := buildWAV(t, 22050, 1, 16, pcm, list)

	got, info, err := audio.ParseWAV(buf)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 22050 {
		t.Errorf("sample rate: got %d, want 22050", info.SampleRate)
	}
	if len(got) != len(pcm) {
		t.Errorf("pcm length: got %d, want %d", len(got), len(pcm))
	}
}

func TestParseWAV_StereoDownmix(t *testing.T) {
	pcm := audio.SamplesToBytes([]int16{100, 200, -100, -200})
	buf := buildWAV(t, 16000, 2, 16, pcm)

	got, info, err := audio.ParseWAV(buf)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.Channels != 1 {
		t.Errorf("channels after downmix: got %d, want 1", info.Channels)
	}
	samples := audio.BytesToSamples(got)
	want := []int16{150, -150}
	if len(samples) != len(want) {
		t.Fatalf("samples: got %d, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, samples[i], want[i])
		}
	}
}

func TestParseWAV_UnsupportedBits(t *testing.T) {
	buf := buildWAV(t, 8000, 1, 8, []byte{1, 2, 3, 4})
	_, _, err := audio.ParseWAV(buf)
	if !errors.Is(err, audio.ErrUnsupportedBits) {
		t.Fatalf("got %v, want ErrUnsupportedBits", err)
	}
}

func TestParseWAV_NotWAV(t *testing.T) {
	if _, _, err := audio.ParseWAV([]byte("definitely not a wav")); err == nil {
		t.Fatal("expected error for non-WAV input")
	}
	if audio.IsWAV([]byte("RIFFxxxxWAVE")) != true {
		t.Error("IsWAV should accept a RIFF/WAVE prefix")
	}
}
