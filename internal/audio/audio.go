package audio

const (
	// SampleRate and Channels are fixed across the capture pipeline; sources
	// must deliver PCM in this format.
	SampleRate = 48000
	Channels   = 1
)

type SourceKind string

const (
	SourceMicrophone  SourceKind = "microphone"
	SourceSystemAudio SourceKind = "system"
)

// Source is one acquired capture device delivering 16-bit PCM.
type Source interface {
	Kind() SourceKind
	// ReadPCM fills buf with buffered samples and returns how many were
	// written. Zero means no audio is currently available.
	ReadPCM(buf []int16) (int, error)
	Close() error
}

// SourceFactory acquires the two independent capture devices. Either
// acquisition may yield (nil, nil) when the device is configured away;
// the recorder decides which failures are fatal.
type SourceFactory interface {
	// AcquireMicrophone opens the microphone with echo cancellation, noise
	// suppression and automatic gain enabled.
	AcquireMicrophone() (Source, error)
	// AcquireSystemAudio opens the shared system/meeting audio with gain
	// control off so the raw mixed meeting audio is preserved.
	AcquireSystemAudio() (Source, error)
}

// Encoder compresses PCM incrementally. Encode may return an empty chunk
// while it accumulates a full frame.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
	// Flush returns any buffered trailing chunk.
	Flush() ([]byte, error)
	Close() error
	MimeType() string
}

type EncoderFactory func() (Encoder, error)
