package capture

import (
	"bytes"
	"fmt"
)

// Chunker aggregates incoming PCM frames into fixed-interval chunks.
// Devices deliver frames at whatever granularity the host uses; the
// session emits one chunk per configured interval regardless.
type Chunker struct {
	sampleRate int
	channels   int
	intervalMs int
	buffer     *bytes.Buffer
	bytesPerMs int
}

// NewChunker creates a new chunker for PCM16 audio
func NewChunker(sampleRate, channels, intervalMs int) *Chunker {
	// For PCM16, each sample is 2 bytes
	bytesPerSample := 2
	bytesPerMs := (sampleRate * channels * bytesPerSample) / 1000

	return &Chunker{
		sampleRate: sampleRate,
		channels:   channels,
		intervalMs: intervalMs,
		buffer:     bytes.NewBuffer(nil),
		bytesPerMs: bytesPerMs,
	}
}

// Write adds PCM data and returns any complete interval-sized chunks
func (c *Chunker) Write(data []byte) ([][]byte, error) {
	if _, err := c.buffer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to chunk buffer: %w", err)
	}

	chunkSizeBytes := c.intervalMs * c.bytesPerMs

	var chunks [][]byte
	for c.buffer.Len() >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		n, err := c.buffer.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to read from chunk buffer: %w", err)
		}
		if n < chunkSizeBytes {
			chunk = chunk[:n]
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// Flush returns whatever partial chunk remains in the buffer
func (c *Chunker) Flush() []byte {
	if c.buffer.Len() == 0 {
		return nil
	}
	remainder := make([]byte, c.buffer.Len())
	copy(remainder, c.buffer.Bytes())
	c.buffer.Reset()
	return remainder
}

// Reset discards any buffered data
func (c *Chunker) Reset() {
	c.buffer.Reset()
}

// BytesPerSecond returns the PCM data rate, used to derive exact
// durations from sample counts
func (c *Chunker) BytesPerSecond() int {
	return c.bytesPerMs * 1000
}
