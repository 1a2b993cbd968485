package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hraban/opus"
	internalaudio "github.com/minutemanhq/minuteman/internal/audio"
)

const (
	frameSizeMs     = 20
	samplesPerFrame = internalaudio.SampleRate * frameSizeMs * internalaudio.Channels / 1000
	maxPacketBytes  = 4000
)

// mimeTypeOpus tags the stored stream: raw opus packets, each preceded by a
// 16-bit little-endian length.
const mimeTypeOpus = "audio/opus"

// OpusEncoder packs PCM into length-prefixed opus packets. Partial frames
// are buffered until a full 20ms frame is available.
type OpusEncoder struct {
	mu      sync.Mutex
	enc     *opus.Encoder
	pending []int16
	closed  bool
}

func NewOpusEncoder() (internalaudio.Encoder, error) {
	enc, err := opus.NewEncoder(internalaudio.SampleRate, internalaudio.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("encoder is closed")
	}
	e.pending = append(e.pending, pcm...)

	var out []byte
	packet := make([]byte, maxPacketBytes)
	for len(e.pending) >= samplesPerFrame {
		frame := e.pending[:samplesPerFrame]
		n, err := e.enc.Encode(frame, packet)
		if err != nil {
			return nil, fmt.Errorf("encode opus frame: %w", err)
		}
		e.pending = e.pending[samplesPerFrame:]
		if n == 0 {
			continue
		}
		var prefix [2]byte
		binary.LittleEndian.PutUint16(prefix[:], uint16(n))
		out = append(out, prefix[:]...)
		out = append(out, packet[:n]...)
	}
	return out, nil
}

// Flush pads the trailing partial frame with silence and encodes it.
func (e *OpusEncoder) Flush() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || len(e.pending) == 0 {
		return nil, nil
	}
	frame := make([]int16, samplesPerFrame)
	copy(frame, e.pending)
	e.pending = nil

	packet := make([]byte, maxPacketBytes)
	n, err := e.enc.Encode(frame, packet)
	if err != nil {
		return nil, fmt.Errorf("encode trailing opus frame: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, 2, 2+n)
	binary.LittleEndian.PutUint16(out, uint16(n))
	return append(out, packet[:n]...), nil
}

func (e *OpusEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.pending = nil
	return nil
}

func (e *OpusEncoder) MimeType() string {
	return mimeTypeOpus
}
