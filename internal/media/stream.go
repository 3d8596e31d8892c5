// Package media acquires local capture streams and records remote tracks.
package media

import (
	"context"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// Stream IDs for the two kinds of local capture.
const (
	StreamCamera = "camera"
	StreamScreen = "screen"
)

// Stream is a set of local tracks that were acquired together and are
// released together.
type Stream struct {
	id     string
	tracks []pion.TrackLocal

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
	released chan struct{}
}

// NewStream wraps tracks that need no background producer.
func NewStream(id string, tracks ...pion.TrackLocal) *Stream {
	return &Stream{
		id:       id,
		tracks:   tracks,
		cancel:   func() {},
		released: make(chan struct{}),
	}
}

func newPumpedStream(id string) (*Stream, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		id:       id,
		cancel:   cancel,
		released: make(chan struct{}),
	}, ctx
}

// ID returns the stream ID shared by all of its tracks.
func (s *Stream) ID() string {
	return s.id
}

// Tracks returns every track in the stream.
func (s *Stream) Tracks() []pion.TrackLocal {
	return append([]pion.TrackLocal(nil), s.tracks...)
}

// VideoTracks returns the stream's video tracks.
func (s *Stream) VideoTracks() []pion.TrackLocal {
	return s.ofKind(pion.RTPCodecTypeVideo)
}

// AudioTracks returns the stream's audio tracks.
func (s *Stream) AudioTracks() []pion.TrackLocal {
	return s.ofKind(pion.RTPCodecTypeAudio)
}

func (s *Stream) ofKind(kind pion.RTPCodecType) []pion.TrackLocal {
	var out []pion.TrackLocal
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Release stops every track's producer. It is safe to call more than once.
func (s *Stream) Release() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		close(s.released)
	})
}

// Released reports whether Release has completed.
func (s *Stream) Released() bool {
	select {
	case <-s.released:
		return true
	default:
		return false
	}
}

// Done is closed once the stream has been released.
func (s *Stream) Done() <-chan struct{} {
	return s.released
}
