package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"

	internalaudio "github.com/minutemanhq/minuteman/internal/audio"
)

// FFmpegSourceFactory acquires capture devices by spawning ffmpeg and
// streaming raw s16le PCM from its stdout.
type FFmpegSourceFactory struct {
	MicDevice    string
	SystemDevice string
}

func NewFFmpegSourceFactory(micDevice, systemDevice string) *FFmpegSourceFactory {
	return &FFmpegSourceFactory{MicDevice: micDevice, SystemDevice: systemDevice}
}

func (f *FFmpegSourceFactory) AcquireMicrophone() (internalaudio.Source, error) {
	if f.MicDevice == "none" {
		return nil, nil
	}
	// Noise suppression and gain normalization on; the meeting mix from the
	// system source stays untouched.
	return startFFmpegSource(internalaudio.SourceMicrophone, f.MicDevice, "afftdn,loudnorm")
}

func (f *FFmpegSourceFactory) AcquireSystemAudio() (internalaudio.Source, error) {
	if f.SystemDevice == "none" {
		return nil, nil
	}
	return startFFmpegSource(internalaudio.SourceSystemAudio, f.SystemDevice, "")
}

func captureInputArgs(device string) []string {
	if runtime.GOOS == "darwin" {
		return []string{"-f", "avfoundation", "-i", ":" + device}
	}
	return []string{"-f", "pulse", "-i", device}
}

func startFFmpegSource(kind internalaudio.SourceKind, device, filters string) (internalaudio.Source, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	args := captureInputArgs(device)
	if filters != "" {
		args = append(args, "-af", filters)
	}
	args = append(args,
		"-ac", fmt.Sprintf("%d", internalaudio.Channels),
		"-ar", fmt.Sprintf("%d", internalaudio.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg for %s: %w", kind, err)
	}

	s := &ffmpegSource{kind: kind, cmd: cmd}
	go s.readLoop(stdout)
	slog.Info("capture source acquired", "kind", kind, "device", device)
	return s, nil
}

type ffmpegSource struct {
	kind internalaudio.SourceKind
	cmd  *exec.Cmd

	mu     sync.Mutex
	buf    []int16
	err    error
	closed bool
}

func (s *ffmpegSource) readLoop(stdout io.Reader) {
	raw := make([]byte, 8192)
	for {
		n, err := stdout.Read(raw)
		if n > 0 {
			samples := make([]int16, n/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			s.mu.Lock()
			s.buf = append(s.buf, samples...)
			if over := len(s.buf) - internalaudio.MaxSourceBacklog; over > 0 {
				s.buf = s.buf[over:]
			}
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *ffmpegSource) Kind() internalaudio.SourceKind {
	return s.kind
}

func (s *ffmpegSource) ReadPCM(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, nil
	}
	n := copy(buf, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *ffmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
