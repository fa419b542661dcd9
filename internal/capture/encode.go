package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// EncodeWAV finalizes raw PCM16 data into a WAV artifact. The encoder
// needs a seekable writer to patch the header, so the artifact is built
// in a temp file and read back.
func EncodeWAV(pcmData []byte, sampleRate, channels int) ([]byte, error) {
	tmp, err := os.CreateTemp("", "voxdesk-artifact-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	enc := wav.NewEncoder(tmp, sampleRate, bitDepth, channels, 1)

	intSamples := byteSliceToInts(pcmData)

	if err := enc.Write(&audio.IntBuffer{
		Data:   intSamples,
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: channels},
	}); err != nil {
		return nil, fmt.Errorf("failed to write to WAV encoder: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV encoder: %w", err)
	}

	if _, err := tmp.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to rewind artifact: %w", err)
	}

	var out bytes.Buffer
	if _, err := out.ReadFrom(tmp); err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	return out.Bytes(), nil
}

// byteSliceToInts converts PCM16 bytes to integer samples, little-endian
func byteSliceToInts(pcmData []byte) []int {
	samples := make([]int, 0, len(pcmData)/2)
	for i := 0; i+1 < len(pcmData); i += 2 {
		samples = append(samples, int(int16(binary.LittleEndian.Uint16(pcmData[i:i+2]))))
	}
	return samples
}
