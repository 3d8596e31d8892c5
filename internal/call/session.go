package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// SessionConfig wires a Session to its collaborators.
type SessionConfig struct {
	Transport      signaling.Transport
	Conns          ConnFactory
	Media          MediaSource
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Stats summarises what happened over a Session's lifetime.
type Stats struct {
	Calls        int
	ChatSent     int
	ChatReceived int
	ScreenShares int
	ConnectedAt  time.Time
	EndedAt      time.Time
	LastState    State
	LastError    error
}

// Session is the façade the UI drives. It holds at most one live PeerSession
// and replaces it with a fresh one once it has finished.
type Session struct {
	transport signaling.Transport
	conns     ConnFactory
	media     MediaSource
	timeout   time.Duration
	logger    *slog.Logger
	sub       *signaling.Subscription

	mu          sync.Mutex
	current     *Machine
	closed      bool
	cameraTrack pion.TrackLocal
	cameraFor   *Machine
	stats       Stats

	onState        func(State)
	onChat         func(string)
	onRemoteSource func(kind pion.RTPCodecType, source string)
	onRemoteTrack  func(*pion.TrackRemote)
}

// NewSession creates a Session and subscribes it to the transport. The
// subscription lives until Close.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		transport: cfg.Transport,
		conns:     cfg.Conns,
		media:     cfg.Media,
		timeout:   cfg.ConnectTimeout,
		logger:    logger,
	}
	s.current = s.newMachine()
	s.sub = cfg.Transport.Subscribe(s.handleSignal)
	return s
}

func (s *Session) newMachine() *Machine {
	var m *Machine
	m = NewMachine(MachineConfig{
		Conns:          s.conns,
		Media:          s.media,
		Emitter:        s.transport,
		ConnectTimeout: s.timeout,
		Logger:         s.logger,
		Hooks: Hooks{
			OnStateChange:  func(state State) { s.stateChanged(m, state) },
			OnTrack:        func(track *pion.TrackRemote) { s.remoteTrack(m, track) },
			OnRemoteSource: func(kind pion.RTPCodecType, source string) { s.remoteSource(m, kind, source) },
		},
	})
	return m
}

// OnStateChange registers fn for state changes of the live PeerSession.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnChat registers fn for chat lines from the remote participant.
func (s *Session) OnChat(fn func(string)) {
	s.mu.Lock()
	s.onChat = fn
	s.mu.Unlock()
}

// OnRemoteSource registers fn for the remote peer's source announcements.
func (s *Session) OnRemoteSource(fn func(kind pion.RTPCodecType, source string)) {
	s.mu.Lock()
	s.onRemoteSource = fn
	s.mu.Unlock()
}

// OnRemoteTrack registers fn for tracks received from the remote peer.
func (s *Session) OnRemoteTrack(fn func(*pion.TrackRemote)) {
	s.mu.Lock()
	s.onRemoteTrack = fn
	s.mu.Unlock()
}

// State returns the state of the live PeerSession.
func (s *Session) State() State {
	state, _ := s.Machine().State()
	return state
}

// Machine returns the live PeerSession.
func (s *Session) Machine() *Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Sharing reports whether the screen currently feeds the video sender.
func (s *Session) Sharing() bool {
	return s.Machine().ScreenStream() != nil
}

// live returns the current PeerSession, replacing it first if it finished.
func (s *Session) live() (*Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if state, _ := s.current.State(); state.Terminal() {
		s.current = s.newMachine()
	}
	return s.current, nil
}

// InitiateCall starts a call as the caller.
func (s *Session) InitiateCall(ctx context.Context) error {
	m, err := s.live()
	if err != nil {
		return NewError("initiate call", err)
	}
	if m.Busy() {
		state, _ := m.State()
		return WrapError("initiate call", ErrSessionAlreadyActive, state.String())
	}

	s.mu.Lock()
	s.stats.Calls++
	s.mu.Unlock()

	return m.Initiate(ctx)
}

// ShareScreen replaces the outbound camera video with a display capture. The
// session itself is unaffected by a failure here.
func (s *Session) ShareScreen(ctx context.Context) error {
	const op = "share screen"

	m := s.Machine()
	if state, _ := m.State(); state != StateDescriptionsExchanged && state != StateConnected {
		return WrapError(op, ErrNoActiveVideoSender, state.String())
	}

	stream, err := s.media.DisplayMedia(ctx)
	if err != nil {
		return wrapCause(op, ErrMediaAcquisition, err)
	}

	videos := stream.VideoTracks()
	if len(videos) == 0 {
		stream.Release()
		return WrapError(op, ErrMediaAcquisition, "display capture has no video track")
	}

	previous, err := m.ReplaceOutboundVideo(videos[0], stream)
	if err != nil {
		stream.Release()
		return err
	}

	s.mu.Lock()
	if s.cameraFor != m {
		s.cameraTrack = previous
		s.cameraFor = m
	}
	s.stats.ScreenShares++
	s.mu.Unlock()

	return nil
}

// StopScreenShare puts the camera track back on the video sender.
func (s *Session) StopScreenShare() error {
	const op = "stop screen share"

	m := s.Machine()

	s.mu.Lock()
	camera := s.cameraTrack
	if s.cameraFor != m {
		camera = nil
	}
	s.mu.Unlock()

	if camera == nil || m.ScreenStream() == nil {
		return WrapError(op, ErrNoActiveVideoSender, "screen is not being shared")
	}

	_, err := m.ReplaceOutboundVideo(camera, nil)
	return err
}

// SendChatMessage forwards text to the relay. It does not touch negotiation.
func (s *Session) SendChatMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return NewError("send chat message", ErrSessionClosed)
	}

	if err := s.transport.Send(ctx, signaling.ChatSend{Text: text}); err != nil {
		return wrapCause("send chat message", ErrSignaling, err)
	}

	s.mu.Lock()
	s.stats.ChatSent++
	s.mu.Unlock()
	return nil
}

// Hangup closes the live PeerSession. The Session stays usable.
func (s *Session) Hangup() {
	s.Machine().Close()
}

// Close hangs up and deregisters from the transport. The transport itself is
// left open.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	m := s.current
	s.mu.Unlock()

	s.sub.Close()
	m.Close()
}

func (s *Session) handleSignal(sig signaling.Signal) {
	var err error

	switch sig := sig.(type) {
	case signaling.Offer:
		m, lerr := s.live()
		if lerr != nil {
			return
		}
		err = m.HandleOffer(context.Background(), sig.Description)
		if err == nil {
			s.mu.Lock()
			s.stats.Calls++
			s.mu.Unlock()
		}

	case signaling.Answer:
		err = s.Machine().HandleAnswer(sig.Description)

	case signaling.Candidate:
		// Candidates belong to the PeerSession they were gathered for; a late
		// one for a finished session is dropped there, not carried forward.
		err = s.Machine().HandleCandidate(sig.Init)

	case signaling.ChatReceive:
		s.mu.Lock()
		s.stats.ChatReceived++
		fn := s.onChat
		s.mu.Unlock()
		if fn != nil {
			fn(sig.Text)
		}

	default:
		s.logger.Debug("ignoring signal", "event", sig.Event())
	}

	if err == nil {
		return
	}
	if IsProtocolError(err) {
		s.logger.Warn("signal rejected", "event", sig.Event(), "err", err)
		return
	}
	s.logger.Error("signal handling failed", "event", sig.Event(), "err", err)
}

func (s *Session) stateChanged(m *Machine, state State) {
	s.mu.Lock()
	if m != s.current {
		s.mu.Unlock()
		return
	}
	s.stats.LastState = state
	switch {
	case state == StateConnected:
		s.stats.ConnectedAt = time.Now()
	case state.Terminal():
		s.stats.EndedAt = time.Now()
		s.stats.LastError = m.Err()
	}
	fn := s.onState
	s.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

func (s *Session) remoteTrack(m *Machine, track *pion.TrackRemote) {
	s.mu.Lock()
	fn := s.onRemoteTrack
	current := m == s.current
	s.mu.Unlock()

	if current && fn != nil {
		fn(track)
	}
}

func (s *Session) remoteSource(m *Machine, kind pion.RTPCodecType, source string) {
	s.mu.Lock()
	fn := s.onRemoteSource
	current := m == s.current
	s.mu.Unlock()

	if current && fn != nil {
		fn(kind, source)
	}
}
