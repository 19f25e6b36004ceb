package audio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugCaptureAppendTruncatesAtLimit(t *testing.T) {
	// 1 second at 4 samples/sec = 8 bytes.
	c := NewDebugCapture(1, 4)

	c.Append(make([]byte, 6))
	if c.Len() != 6 {
		t.Errorf("Expected 6 bytes, got %d", c.Len())
	}

	// Only 2 of these 6 bytes fit.
	c.Append(make([]byte, 6))
	if c.Len() != 8 {
		t.Errorf("Expected capture capped at 8 bytes, got %d", c.Len())
	}

	// Further appends are ignored.
	c.Append(make([]byte, 4))
	if c.Len() != 8 {
		t.Errorf("Expected capture to stay at 8 bytes, got %d", c.Len())
	}
}

func TestDebugCaptureFlush(t *testing.T) {
	dir := t.TempDir()
	c := NewDebugCapture(1, 16000)

	// Two PCM-16 samples.
	c.Append([]byte{0x01, 0x00, 0xFF, 0xFF})

	path, err := c.Flush(dir, "conn-123", 16000)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !strings.Contains(filepath.Base(path), "conn-123") {
		t.Errorf("Expected connection ID in filename, got %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read flushed file: %v", err)
	}
	samples, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("Flushed file is not valid WAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if len(samples) != 2 || samples[0] != 1 || samples[1] != -1 {
		t.Errorf("Unexpected samples: %v", samples)
	}

	// Flush empties the capture.
	if c.Len() != 0 {
		t.Errorf("Expected empty capture after flush, got %d bytes", c.Len())
	}
}

func TestDebugCaptureFlushEmpty(t *testing.T) {
	dir := t.TempDir()
	c := NewDebugCapture(1, 16000)

	path, err := c.Flush(dir, "conn-empty", 16000)
	if err != nil {
		t.Fatalf("Flush of empty capture failed: %v", err)
	}
	if path != "" {
		t.Errorf("Expected empty path for empty capture, got %s", path)
	}

	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) != 0 {
		t.Errorf("Expected no files written, found %d", len(entries))
	}
}

func TestDebugCaptureDefaults(t *testing.T) {
	c := NewDebugCapture(0, 16000)
	expected := DefaultCaptureSeconds * 16000 * 2
	if c.limit != expected {
		t.Errorf("Expected default limit %d, got %d", expected, c.limit)
	}
}
