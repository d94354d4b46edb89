package align

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// buildWAV assembles a minimal RIFF/WAVE stream with 16-bit PCM samples.
func buildWAV(t *testing.T, channels, sampleRate int, frames [][]int16) []byte {
	t.Helper()

	var data bytes.Buffer
	for _, frame := range frames {
		if len(frame) != channels {
			t.Fatalf("frame has %d samples, want %d", len(frame), channels)
		}
		for _, s := range frame {
			binary.Write(&data, binary.LittleEndian, s)
		}
	}

	var fmtChunk bytes.Buffer
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(sampleRate*channels*2)) // byte rate
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels*2))            // block align
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(16))                    // bit depth

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(4+8+fmtChunk.Len()+8+data.Len()))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	binary.Write(&out, binary.LittleEndian, uint32(fmtChunk.Len()))
	out.Write(fmtChunk.Bytes())
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(data.Len()))
	out.Write(data.Bytes())
	return out.Bytes()
}

func TestDecodeWAVMono(t *testing.T) {
	raw := buildWAV(t, 1, 16000, [][]int16{{0}, {16384}, {-16384}, {32767}})

	sig, err := DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if sig.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", sig.SampleRate)
	}
	want := []float64{0, 0.5, -0.5, 32767.0 / 32768.0}
	if len(sig.Samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(sig.Samples), len(want))
	}
	for i, w := range want {
		if math.Abs(sig.Samples[i]-w) > 1e-9 {
			t.Errorf("sample %d = %v, want %v", i, sig.Samples[i], w)
		}
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	raw := buildWAV(t, 2, 22050, [][]int16{{16384, 0}, {-16384, -16384}})

	sig, err := DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	want := []float64{0.25, -0.5}
	for i, w := range want {
		if math.Abs(sig.Samples[i]-w) > 1e-9 {
			t.Errorf("sample %d = %v, want %v", i, sig.Samples[i], w)
		}
	}
}

func TestDecodeWAVRejectsNonRIFF(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

func TestDecodeWAVRejectsNonPCM(t *testing.T) {
	raw := buildWAV(t, 1, 16000, [][]int16{{0}})
	// Flip the audio format field (offset 20) to IEEE float.
	raw[20] = 3

	if _, err := DecodeWAV(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error for non-PCM format")
	}
}

func TestLoadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wav")
	raw := buildWAV(t, 1, 16000, [][]int16{{100}, {200}})
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	sig, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV failed: %v", err)
	}
	if len(sig.Samples) != 2 {
		t.Errorf("got %d samples, want 2", len(sig.Samples))
	}
}

func TestLoadWAVMissingFile(t *testing.T) {
	if _, err := LoadWAV(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
