package rtc

import (
	"log/slog"

	"github.com/BioHazard786/warpcall/internal/call"
	"github.com/BioHazard786/warpcall/internal/config"
	pion "github.com/pion/webrtc/v4"
)

// Conn is a pion peer connection shaped for the negotiation core, with a
// control channel for source announcements.
type Conn struct {
	pc      *pion.PeerConnection
	control *controlChannel
	logger  *slog.Logger
}

// NewConn creates a peer connection from cfg.
func NewConn(cfg *config.Config, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	logger = logger.With("component", "rtc")
	control, err := newControlChannel(pc, logger)
	if err != nil {
		pc.Close()
		return nil, err
	}

	return &Conn{pc: pc, control: control, logger: logger}, nil
}

// PeerConnection exposes the underlying pion connection.
func (c *Conn) PeerConnection() *pion.PeerConnection {
	return c.pc
}

func (c *Conn) CreateOffer() (pion.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Conn) CreateAnswer() (pion.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Conn) SetLocalDescription(desc pion.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *Conn) SetRemoteDescription(desc pion.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Conn) AddICECandidate(candidate pion.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// AddTrack adds an outbound track and drains its RTCP so interceptors keep
// working.
func (c *Conn) AddTrack(track pion.TrackLocal) (call.Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return sender, nil
}

func (c *Conn) Senders() []call.Sender {
	senders := c.pc.GetSenders()
	out := make([]call.Sender, 0, len(senders))
	for _, s := range senders {
		out = append(out, s)
	}
	return out
}

func (c *Conn) OnICECandidate(fn func(pion.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON())
	})
}

func (c *Conn) OnConnectionStateChange(fn func(pion.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *Conn) OnTrack(fn func(*pion.TrackRemote)) {
	c.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		fn(track)
	})
}

// AnnounceSource tells the remote peer which source now feeds the sender of kind.
func (c *Conn) AnnounceSource(kind pion.RTPCodecType, source string) error {
	return c.control.announce(kind, source)
}

// OnRemoteSource registers fn for the remote peer's source announcements.
func (c *Conn) OnRemoteSource(fn func(kind pion.RTPCodecType, source string)) {
	c.control.setSourceHandler(fn)
}

func (c *Conn) Close() error {
	return c.pc.Close()
}

// Factory creates a Conn per PeerSession.
type Factory struct {
	Config *config.Config
	Logger *slog.Logger
}

func (f *Factory) NewPeerConnection() (call.PeerConnection, error) {
	return NewConn(f.Config, f.Logger)
}
