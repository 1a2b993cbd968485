package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	chunkInterval   = 100 * time.Millisecond
	samplesPerChunk = SampleRate * Channels / 10

	// MaxSourceBacklog caps how many unread samples a source may hold when
	// the mix loop falls behind; sources drop their oldest samples first.
	MaxSourceBacklog = samplesPerChunk * 4
)

var (
	// ErrNoAudioTrack is returned when neither source yields an audio track.
	ErrNoAudioTrack = errors.New("no audio track available from any source")
	// ErrNoAudioCaptured is returned by Stop when zero bytes were encoded.
	ErrNoAudioCaptured = errors.New("no audio captured")
)

// Result is the finished capture: one compressed binary object plus the
// transport form handed across the message boundary.
type Result struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Base64 is the only representation ever transmitted.
func (r Result) Base64() string {
	return base64.StdEncoding.EncodeToString(r.Data)
}

// Recorder mixes the microphone and the system/meeting audio into one
// encoded stream. Single use: Start once, Stop once.
type Recorder struct {
	sources SourceFactory
	newEnc  EncoderFactory

	mu        sync.Mutex
	mic       Source
	system    Source
	encoder   Encoder
	chunks    [][]byte
	startedAt time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
}

// RecorderFactory builds one Recorder per capture attempt.
type RecorderFactory func() *Recorder

func NewRecorder(sources SourceFactory, newEnc EncoderFactory) *Recorder {
	return &Recorder{sources: sources, newEnc: newEnc}
}

// Start acquires both devices and begins the mix/encode loop. Microphone
// failure is non-fatal; system-audio failure aborts the attempt. All
// acquired devices are released on any failure path.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("recorder already started")
	}

	mic, err := r.sources.AcquireMicrophone()
	if err != nil {
		slog.Warn("microphone unavailable; continuing without it", "error", err)
		mic = nil
	}
	system, err := r.sources.AcquireSystemAudio()
	if err != nil {
		releaseSource(mic)
		return fmt.Errorf("acquire system audio: %w", err)
	}
	if mic == nil && system == nil {
		return ErrNoAudioTrack
	}

	encoder, err := r.newEnc()
	if err != nil {
		releaseSource(mic)
		releaseSource(system)
		return fmt.Errorf("create encoder: %w", err)
	}

	r.mic = mic
	r.system = system
	r.encoder = encoder
	r.startedAt = time.Now()
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.started = true

	go r.mixLoop()
	slog.Info("capture started", "microphone", mic != nil, "system_audio", system != nil)
	return nil
}

// mixLoop reads from whichever sources are present every chunk interval,
// sums them sample-wise and feeds the encoder. The mix is total over
// mic-only, system-only and both.
func (r *Recorder) mixLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()

	micBuf := make([]int16, samplesPerChunk)
	sysBuf := make([]int16, samplesPerChunk)
	mixed := make([]int16, samplesPerChunk)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			micN := r.readSource(&r.mic, micBuf)
			sysN := r.readSource(&r.system, sysBuf)
			n := micN
			if sysN > n {
				n = sysN
			}
			if n == 0 {
				continue
			}
			for i := 0; i < n; i++ {
				var v int32
				if i < micN {
					v += int32(micBuf[i])
				}
				if i < sysN {
					v += int32(sysBuf[i])
				}
				mixed[i] = clampPCM(v)
			}
			chunk, err := r.encoder.Encode(mixed[:n])
			if err != nil {
				slog.Error("encode failed; dropping chunk", "error", err)
				continue
			}
			if len(chunk) > 0 {
				r.mu.Lock()
				r.chunks = append(r.chunks, chunk)
				r.mu.Unlock()
			}
		}
	}
}

// readSource pulls buffered PCM from a source; a read error marks the
// source as gone for the rest of the session.
func (r *Recorder) readSource(src *Source, buf []int16) int {
	s := *src
	if s == nil {
		return 0
	}
	n, err := s.ReadPCM(buf)
	if err != nil {
		slog.Warn("capture source ended", "kind", s.Kind(), "error", err)
		_ = s.Close()
		*src = nil
		return 0
	}
	return n
}

// Stop ends the capture and concatenates the accumulated chunks. Every
// acquired device is released whether or not audio was produced.
func (r *Recorder) Stop() (Result, error) {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return Result{}, fmt.Errorf("recorder is not running")
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.releaseAll()

	if tail, err := r.encoder.Flush(); err == nil && len(tail) > 0 {
		r.chunks = append(r.chunks, tail)
	}

	var total int
	for _, c := range r.chunks {
		total += len(c)
	}
	duration := time.Since(r.startedAt)
	if total == 0 {
		slog.Warn("capture produced no audio", "duration", duration)
		return Result{}, ErrNoAudioCaptured
	}
	data := make([]byte, 0, total)
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	slog.Info("capture stopped", "bytes", total, "chunks", len(r.chunks), "duration", duration)
	return Result{Data: data, MimeType: r.encoder.MimeType(), Duration: duration}, nil
}

func (r *Recorder) releaseAll() {
	releaseSource(r.mic)
	releaseSource(r.system)
	r.mic = nil
	r.system = nil
	if r.encoder != nil {
		_ = r.encoder.Close()
	}
}

func releaseSource(s Source) {
	if s != nil {
		_ = s.Close()
	}
}

func clampPCM(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
