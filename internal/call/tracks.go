package call

import (
	pion "github.com/pion/webrtc/v4"
)

// ReplaceOutboundVideo swaps the track of the sender currently carrying video
// for newTrack, without any offer/answer round-trip. Exactly one sender is
// touched; audio senders are left alone. The function keeps no memory of the
// replaced track: callers that want to restore it must hold on to it.
//
// It fails with ErrNoActiveVideoSender when no sender carries a video track.
func ReplaceOutboundVideo(senders []Sender, newTrack pion.TrackLocal) (pion.TrackLocal, error) {
	if newTrack == nil || newTrack.Kind() != pion.RTPCodecTypeVideo {
		return nil, WrapError("replace outbound video", ErrNoActiveVideoSender, "replacement is not a video track")
	}

	sender := videoSender(senders)
	if sender == nil {
		return nil, NewError("replace outbound video", ErrNoActiveVideoSender)
	}

	previous := sender.Track()
	if err := sender.ReplaceTrack(newTrack); err != nil {
		return nil, wrapCause("replace outbound video", ErrTrackReplacement, err)
	}
	return previous, nil
}

func videoSender(senders []Sender) Sender {
	for _, s := range senders {
		if s == nil {
			continue
		}
		if t := s.Track(); t != nil && t.Kind() == pion.RTPCodecTypeVideo {
			return s
		}
	}
	return nil
}
