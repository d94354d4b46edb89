package align

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// LoadWAV reads a RIFF/WAVE file containing 16-bit PCM into a Signal.
// Multi-channel input is downmixed by averaging, though the extraction step
// already produces mono.
func LoadWAV(path string) (*Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav: %w", err)
	}
	defer f.Close()

	sig, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return sig, nil
}

// DecodeWAV parses the RIFF container: a fmt chunk describing the encoding
// followed by a data chunk with the raw samples. Unknown chunks are skipped.
func DecodeWAV(r io.Reader) (*Signal, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("short RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var (
		channels   int
		sampleRate int
		bitDepth   int
		haveFmt    bool
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("missing data chunk")
			}
			return nil, err
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("short fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return nil, fmt.Errorf("unsupported audio format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitDepth = int(binary.LittleEndian.Uint16(body[14:16]))
			if bitDepth != 16 {
				return nil, fmt.Errorf("unsupported bit depth %d (want 16)", bitDepth)
			}
			if channels < 1 {
				return nil, fmt.Errorf("invalid channel count %d", channels)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			raw := make([]byte, size)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, fmt.Errorf("short data chunk: %w", err)
			}
			frames := len(raw) / (2 * channels)
			samples := make([]float64, frames)
			for i := 0; i < frames; i++ {
				var sum float64
				for ch := 0; ch < channels; ch++ {
					off := (i*channels + ch) * 2
					s := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
					sum += float64(s) / 32768.0
				}
				samples[i] = sum / float64(channels)
			}
			return &Signal{Samples: samples, SampleRate: sampleRate}, nil

		default:
			// Skip LIST, INFO and other metadata chunks (pad byte on odd sizes).
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("short %q chunk: %w", id, err)
			}
		}
	}
}
