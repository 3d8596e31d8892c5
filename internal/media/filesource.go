package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	oggPageDuration = 20 * time.Millisecond
	opusSampleRate  = 48000
)

var ErrNoSource = errors.New("no capture source configured")

// FileSource stands in for capture devices: camera and screen are IVF files,
// the microphone is an Ogg/Opus file. Files loop until the stream is released.
type FileSource struct {
	CameraFile     string
	MicrophoneFile string
	ScreenFile     string

	Logger *slog.Logger
}

func (f *FileSource) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// UserMedia acquires the camera and microphone. Either may be left
// unconfigured, but not both.
func (f *FileSource) UserMedia(ctx context.Context) (*Stream, error) {
	if f.CameraFile == "" && f.MicrophoneFile == "" {
		return nil, fmt.Errorf("%w: camera and microphone", ErrNoSource)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, pumpCtx := newPumpedStream(StreamCamera)

	if f.CameraFile != "" {
		if err := f.addVideo(pumpCtx, stream, f.CameraFile, "camera-video"); err != nil {
			stream.Release()
			return nil, err
		}
	}

	if f.MicrophoneFile != "" {
		if err := f.addAudio(pumpCtx, stream, f.MicrophoneFile, "microphone-audio"); err != nil {
			stream.Release()
			return nil, err
		}
	}

	return stream, nil
}

// DisplayMedia acquires the screen.
func (f *FileSource) DisplayMedia(ctx context.Context) (*Stream, error) {
	if f.ScreenFile == "" {
		return nil, fmt.Errorf("%w: screen", ErrNoSource)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, pumpCtx := newPumpedStream(StreamScreen)
	if err := f.addVideo(pumpCtx, stream, f.ScreenFile, "screen-video"); err != nil {
		stream.Release()
		return nil, err
	}
	return stream, nil
}

func (f *FileSource) addVideo(ctx context.Context, stream *Stream, path, trackID string) error {
	absPath, err := validateFile(path)
	if err != nil {
		return err
	}

	file, reader, header, err := openIVF(absPath)
	if err != nil {
		return err
	}

	mimeType, err := videoMimeType(header.FourCC)
	if err != nil {
		file.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: mimeType}, trackID, stream.id)
	if err != nil {
		file.Close()
		return err
	}

	frameDuration := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	if frameDuration <= 0 {
		frameDuration = time.Second / 30
	}

	stream.tracks = append(stream.tracks, track)
	stream.wg.Add(1)
	go func() {
		defer stream.wg.Done()
		f.pumpIVF(ctx, absPath, file, reader, track, frameDuration)
	}()
	return nil
}

func (f *FileSource) addAudio(ctx context.Context, stream *Stream, path, trackID string) error {
	absPath, err := validateFile(path)
	if err != nil {
		return err
	}

	file, reader, err := openOgg(absPath)
	if err != nil {
		return err
	}

	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}, trackID, stream.id)
	if err != nil {
		file.Close()
		return err
	}

	stream.tracks = append(stream.tracks, track)
	stream.wg.Add(1)
	go func() {
		defer stream.wg.Done()
		f.pumpOgg(ctx, absPath, file, reader, track)
	}()
	return nil
}

func openIVF(path string) (*os.File, *ivfreader.IVFReader, *ivfreader.IVFFileHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, nil, nil, fmt.Errorf("%s: not an IVF file: %w", path, err)
	}
	return file, reader, header, nil
}

func openOgg(path string) (*os.File, *oggreader.OggReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("%s: not an Ogg file: %w", path, err)
	}
	return file, reader, nil
}

func videoMimeType(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return pion.MimeTypeVP8, nil
	case "VP90":
		return pion.MimeTypeVP9, nil
	case "AV01":
		return pion.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("unsupported IVF codec %q", fourCC)
}

func (f *FileSource) pumpIVF(ctx context.Context, path string, file *os.File, reader *ivfreader.IVFReader, track *pion.TrackLocalStaticSample, frameDuration time.Duration) {
	defer func() { file.Close() }()

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			file.Close()
			file, reader, _, err = openIVF(path)
			if err != nil {
				f.logger().Warn("stopping video source", "file", path, "err", err)
				return
			}
			continue
		}
		if err != nil {
			f.logger().Warn("stopping video source", "file", path, "err", err)
			return
		}

		if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			f.logger().Debug("video sample dropped", "track", track.ID(), "err", err)
		}
	}
}

func (f *FileSource) pumpOgg(ctx context.Context, path string, file *os.File, reader *oggreader.OggReader, track *pion.TrackLocalStaticSample) {
	defer func() { file.Close() }()

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			file.Close()
			file, reader, err = openOgg(path)
			if err != nil {
				f.logger().Warn("stopping audio source", "file", path, "err", err)
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			f.logger().Warn("stopping audio source", "file", path, "err", err)
			return
		}

		sampleCount := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		duration := time.Duration(sampleCount/opusSampleRate*1000) * time.Millisecond

		if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			f.logger().Debug("audio sample dropped", "track", track.ID(), "err", err)
		}
	}
}
