package parlance

import (
	"encoding/binary"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// MicrophoneSource captures mono 16-bit PCM from the default input
// device and pushes it into a session. It satisfies AudioSource.
type MicrophoneSource struct {
	sampleRate int
	frameSize  int
	logger     *Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	active bool
}

// NewMicrophoneSource opens the host audio layer. frameSize is samples
// per callback; 0 picks a 20ms frame at the given rate.
func NewMicrophoneSource(sampleRate, frameSize int) (*MicrophoneSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, WrapError(err, ErrCodeAudioDevice)
	}
	if frameSize <= 0 {
		frameSize = sampleRate / 50
	}
	return &MicrophoneSource{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		logger:     GetGlobalLogger().WithComponent("mic"),
	}, nil
}

// Start opens the default input stream and delivers each captured frame
// to push as little-endian PCM bytes.
func (m *MicrophoneSource) Start(push func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return NewSessionError("microphone already capturing", ErrCodeAudioDevice)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), m.frameSize, func(in []int16) {
		buf := make([]byte, len(in)*2)
		for i, sample := range in {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
		}
		push(buf)
	})
	if err != nil {
		return WrapError(err, ErrCodeAudioDevice)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return WrapError(err, ErrCodeAudioDevice)
	}

	m.stream = stream
	m.active = true
	m.logger.WithField("sample_rate", m.sampleRate).Info("microphone capture started")
	return nil
}

func (m *MicrophoneSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}
	m.active = false

	var firstErr error
	if m.stream != nil {
		if err := m.stream.Stop(); err != nil {
			firstErr = WrapError(err, ErrCodeAudioDevice)
		}
		if err := m.stream.Close(); err != nil && firstErr == nil {
			firstErr = WrapError(err, ErrCodeAudioDevice)
		}
		m.stream = nil
	}
	m.logger.Info("microphone capture stopped")
	return firstErr
}

// Close releases the host audio layer. Call once, after Stop.
func (m *MicrophoneSource) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return WrapError(err, ErrCodeAudioDevice)
	}
	return nil
}

// InputDevice describes a capture device for CLI listings.
type InputDevice struct {
	Index      int
	Name       string
	Channels   int
	SampleRate float64
	Default    bool
}

// ListInputDevices enumerates capture-capable devices. The caller is
// responsible for portaudio being initialized.
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, WrapError(err, ErrCodeAudioDevice)
	}
	defer func() { _ = portaudio.Terminate() }()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, WrapError(err, ErrCodeAudioDevice)
	}
	defaultIn, _ := portaudio.DefaultInputDevice()

	out := []InputDevice{}
	for i, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		out = append(out, InputDevice{
			Index:      i,
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
			Default:    defaultIn != nil && d.Name == defaultIn.Name,
		})
	}
	return out, nil
}
