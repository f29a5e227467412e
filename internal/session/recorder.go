package session

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const recorderBitDepth = 16

// Recorder archives the raw hearing audio as a WAV file alongside the
// transcript, so segments can be re-verified or re-transcribed later.
// It expects little-endian 16-bit mono PCM, matching the ASR stream format.
// Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format *audio.Format
	closed bool
}

// NewRecorder creates path (truncating any existing file) and prepares a WAV
// encoder for sampleRate mono audio.
func NewRecorder(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", path, err)
	}
	return &Recorder{
		file:   f,
		enc:    wav.NewEncoder(f, sampleRate, recorderBitDepth, 1, 1),
		format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
	}, nil
}

// Write appends pcm (little-endian 16-bit samples) to the archive. A trailing
// odd byte is dropped.
func (r *Recorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder: write after close")
	}

	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	data := make([]int, n)
	for i := 0; i < n; i++ {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	buf := &audio.IntBuffer{
		Format:         r.format,
		Data:           data,
		SourceBitDepth: recorderBitDepth,
	}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("recorder: write: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file. Safe to call more than
// once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.enc.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("recorder: finalize: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("recorder: close file: %w", fileErr)
	}
	return nil
}
