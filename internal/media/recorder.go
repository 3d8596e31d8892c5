package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// File names used for recorded remote media.
const (
	RemoteVideoFile = "remote-video.ivf"
	RemoteAudioFile = "remote-audio.ogg"
)

// Recorder writes remote tracks into a directory, one file per kind.
type Recorder struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	writers map[pion.RTPCodecType]media.Writer
	wg      sync.WaitGroup
}

// NewRecorder creates dir if needed.
func NewRecorder(dir string, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating record dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		dir:     dir,
		logger:  logger.With("component", "recorder"),
		writers: make(map[pion.RTPCodecType]media.Writer),
	}, nil
}

// Record starts copying track to disk in the background. A second track of a
// kind already being recorded is ignored.
func (r *Recorder) Record(track *pion.TrackRemote) error {
	writer, err := r.writerFor(track.Kind(), track.Codec().MimeType)
	if err != nil {
		return err
	}
	if writer == nil {
		return nil
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					r.logger.Debug("remote track ended", "track", track.ID(), "err", err)
				}
				return
			}
			if err := writer.WriteRTP(pkt); err != nil {
				r.logger.Warn("recording failed", "track", track.ID(), "err", err)
				return
			}
		}
	}()
	return nil
}

func (r *Recorder) writerFor(kind pion.RTPCodecType, mimeType string) (media.Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.writers[kind]; busy {
		return nil, nil
	}

	var (
		writer media.Writer
		err    error
	)
	switch kind {
	case pion.RTPCodecTypeVideo:
		writer, err = ivfwriter.New(filepath.Join(r.dir, RemoteVideoFile), ivfwriter.WithCodec(mimeType))
	case pion.RTPCodecTypeAudio:
		if !strings.EqualFold(mimeType, pion.MimeTypeOpus) {
			return nil, fmt.Errorf("cannot record audio codec %s", mimeType)
		}
		writer, err = oggwriter.New(filepath.Join(r.dir, RemoteAudioFile), opusSampleRate, 2)
	default:
		return nil, fmt.Errorf("cannot record track kind %s", kind)
	}
	if err != nil {
		return nil, err
	}

	r.writers[kind] = writer
	return writer, nil
}

// Close waits for the copy loops to end and closes the files. Tracks end when
// their peer connection closes.
func (r *Recorder) Close() error {
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for kind, w := range r.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.writers, kind)
	}
	return errors.Join(errs...)
}
