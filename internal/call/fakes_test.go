package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

type fakeSender struct {
	mu         sync.Mutex
	track      pion.TrackLocal
	replaceErr error
	replaced   int
}

func (s *fakeSender) Track() pion.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(track pion.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.track = track
	s.replaced++
	return nil
}

type fakeConn struct {
	mu sync.Mutex

	offerErr     error
	answerErr    error
	setRemoteErr error
	// emitCandidate makes SetLocalDescription gather one local candidate.
	emitCandidate bool

	senders    []*fakeSender
	local      []pion.SessionDescription
	remote     []pion.SessionDescription
	candidates []string
	announced  []string
	closed     int

	onCandidate func(pion.ICECandidateInit)
	onState     func(pion.PeerConnectionState)
	onTrack     func(*pion.TrackRemote)
	onSource    func(pion.RTPCodecType, string)
}

func (c *fakeConn) CreateOffer() (pion.SessionDescription, error) {
	if c.offerErr != nil {
		return pion.SessionDescription{}, c.offerErr
	}
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (c *fakeConn) CreateAnswer() (pion.SessionDescription, error) {
	if c.answerErr != nil {
		return pion.SessionDescription{}, c.answerErr
	}
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *fakeConn) SetLocalDescription(desc pion.SessionDescription) error {
	c.mu.Lock()
	c.local = append(c.local, desc)
	emit := c.emitCandidate
	fn := c.onCandidate
	c.mu.Unlock()

	if emit && fn != nil {
		go fn(pion.ICECandidateInit{Candidate: "candidate:local"})
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc pion.SessionDescription) error {
	if c.setRemoteErr != nil {
		return c.setRemoteErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = append(c.remote, desc)
	return nil
}

func (c *fakeConn) AddICECandidate(init pion.ICECandidateInit) error {
	if init.Candidate == "bad" {
		return errors.New("invalid candidate")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, init.Candidate)
	return nil
}

func (c *fakeConn) AddTrack(track pion.TrackLocal) (Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSender{track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) Senders() []Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sender, 0, len(c.senders))
	for _, s := range c.senders {
		out = append(out, s)
	}
	return out
}

func (c *fakeConn) OnICECandidate(fn func(pion.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = fn
}

func (c *fakeConn) OnConnectionStateChange(fn func(pion.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *fakeConn) OnTrack(fn func(*pion.TrackRemote)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *fakeConn) AnnounceSource(kind pion.RTPCodecType, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announced = append(c.announced, kind.String()+":"+source)
	return nil
}

func (c *fakeConn) OnRemoteSource(fn func(pion.RTPCodecType, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSource = fn
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) fireState(state pion.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	fn(state)
}

func (c *fakeConn) appliedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.candidates...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sendersByKind returns the video and audio senders.
func (c *fakeConn) sendersByKind() (video, audio *fakeSender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.senders {
		switch s.Track().Kind() {
		case pion.RTPCodecTypeVideo:
			video = s
		case pion.RTPCodecTypeAudio:
			audio = s
		}
	}
	return video, audio
}

type fakeFactory struct {
	mu    sync.Mutex
	err   error
	setup func(*fakeConn)
	conns []*fakeConn
}

func (f *fakeFactory) NewPeerConnection() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{}
	if f.setup != nil {
		f.setup(c)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeMedia struct {
	t *testing.T

	mu           sync.Mutex
	userErr      error
	displayErr   error
	displayCalls int
	user         []*media.Stream
	display      []*media.Stream
}

func newTestTrack(t *testing.T, mime, id, streamID string) pion.TrackLocal {
	t.Helper()
	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		t.Fatal(err)
	}
	return track
}

func (f *fakeMedia) UserMedia(ctx context.Context) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	s := media.NewStream(media.StreamCamera,
		newTestTrack(f.t, pion.MimeTypeVP8, "camera-video", media.StreamCamera),
		newTestTrack(f.t, pion.MimeTypeOpus, "microphone-audio", media.StreamCamera),
	)
	f.user = append(f.user, s)
	return s, nil
}

func (f *fakeMedia) DisplayMedia(ctx context.Context) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displayCalls++
	if f.displayErr != nil {
		return nil, f.displayErr
	}
	s := media.NewStream(media.StreamScreen,
		newTestTrack(f.t, pion.MimeTypeVP8, "screen-video", media.StreamScreen),
	)
	f.display = append(f.display, s)
	return s, nil
}

func (f *fakeMedia) lastUser() *media.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.user) == 0 {
		return nil
	}
	return f.user[len(f.user)-1]
}

func (f *fakeMedia) lastDisplay() *media.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.display) == 0 {
		return nil
	}
	return f.display[len(f.display)-1]
}

// fakeTransport records outbound signals and dispatches inbound ones
// synchronously through a real Registry.
type fakeTransport struct {
	*signaling.Registry

	mu      sync.Mutex
	sent    []signaling.Signal
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{Registry: &signaling.Registry{}}
}

func (t *fakeTransport) Send(ctx context.Context, sig signaling.Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, sig)
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) signals() []signaling.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]signaling.Signal(nil), t.sent...)
}

func (t *fakeTransport) events() []string {
	var out []string
	for _, s := range t.signals() {
		out = append(out, s.Event())
	}
	return out
}

type harness struct {
	machine   *Machine
	factory   *fakeFactory
	media     *fakeMedia
	transport *fakeTransport

	mu     sync.Mutex
	states []State
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		factory:   &fakeFactory{},
		media:     &fakeMedia{t: t},
		transport: newFakeTransport(),
	}
	h.machine = NewMachine(MachineConfig{
		Conns:          h.factory,
		Media:          h.media,
		Emitter:        h.transport,
		ConnectTimeout: timeout,
		Hooks: Hooks{
			OnStateChange: func(s State) {
				h.mu.Lock()
				h.states = append(h.states, s)
				h.mu.Unlock()
			},
		},
	})
	t.Cleanup(h.machine.Close)
	return h
}

func (h *harness) state() State {
	s, _ := h.machine.State()
	return s
}

func candidate(c string) []byte {
	return []byte(`{"candidate":"` + c + `","sdpMid":"0","sdpMLineIndex":0}`)
}

func offerDesc() pion.SessionDescription {
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0 remote offer"}
}

func answerDesc() pion.SessionDescription {
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0 remote answer"}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
