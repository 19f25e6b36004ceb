package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCaptureSeconds bounds how much raw audio a session keeps around for
// debugging. The capture is flushed to disk only at teardown, never while the
// stream is live.
const DefaultCaptureSeconds = 10

// DebugCapture accumulates raw PCM-16 audio up to a fixed byte limit.
// Frames arriving after the limit is reached are silently ignored.
type DebugCapture struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

// NewDebugCapture creates a capture bounded to the given number of seconds of
// mono PCM-16 audio at sampleRate. Non-positive arguments fall back to
// DefaultCaptureSeconds at the provided rate.
func NewDebugCapture(seconds, sampleRate int) *DebugCapture {
	if seconds <= 0 {
		seconds = DefaultCaptureSeconds
	}
	return &DebugCapture{
		limit: seconds * sampleRate * 2, // 2 bytes per sample
	}
}

// Append records a frame, truncating to whatever fits under the byte limit.
func (c *DebugCapture) Append(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.limit - len(c.data)
	if room <= 0 {
		return
	}
	if len(frame) > room {
		frame = frame[:room]
	}
	c.data = append(c.data, frame...)
}

// Len returns the number of captured bytes.
func (c *DebugCapture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Flush writes the captured audio as a WAV file under dir and returns the
// file path. An empty capture is a no-op and returns an empty path.
func (c *DebugCapture) Flush(dir, connectionID string, sampleRate int) (string, error) {
	c.mu.Lock()
	data := c.data
	c.data = nil
	c.mu.Unlock()

	if len(data) < 2 {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create debug audio directory %s: %w", dir, err)
	}

	wavData, err := EncodeWAV(BytesToSamples(data), sampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode debug audio: %w", err)
	}

	name := fmt.Sprintf("debug_audio_%s_%d.wav", connectionID, time.Now().Unix())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		return "", fmt.Errorf("failed to write debug audio file: %w", err)
	}

	return path, nil
}
