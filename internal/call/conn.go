package call

import (
	"context"

	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of a WebRTC peer connection the negotiation core
// drives. internal/rtc provides the pion-backed implementation.
type PeerConnection interface {
	CreateOffer() (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetLocalDescription(desc pion.SessionDescription) error
	SetRemoteDescription(desc pion.SessionDescription) error
	AddICECandidate(candidate pion.ICECandidateInit) error

	AddTrack(track pion.TrackLocal) (Sender, error)
	Senders() []Sender

	// OnICECandidate is invoked for every gathered local candidate. The end of
	// gathering is not reported.
	OnICECandidate(fn func(pion.ICECandidateInit))
	OnConnectionStateChange(fn func(pion.PeerConnectionState))
	OnTrack(fn func(*pion.TrackRemote))

	Close() error
}

// Sender transmits one outbound track. *pion.RTPSender satisfies it.
type Sender interface {
	Track() pion.TrackLocal
	ReplaceTrack(track pion.TrackLocal) error
}

// ConnFactory creates a fresh peer connection for each PeerSession.
type ConnFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// MediaSource acquires local capture streams.
type MediaSource interface {
	UserMedia(ctx context.Context) (*media.Stream, error)
	DisplayMedia(ctx context.Context) (*media.Stream, error)
}

// Emitter delivers outbound signals to the remote participant. Implementations
// must not call back into the session that emits.
type Emitter interface {
	Send(ctx context.Context, sig signaling.Signal) error
}

// sourceAnnouncer is implemented by connections that can tell the remote peer
// which capture source now feeds a sender.
type sourceAnnouncer interface {
	AnnounceSource(kind pion.RTPCodecType, source string) error
}

// sourceListener is implemented by connections that surface the remote peer's
// source announcements.
type sourceListener interface {
	OnRemoteSource(fn func(kind pion.RTPCodecType, source string))
}
