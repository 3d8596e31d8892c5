package call

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
)

// Hooks observe a Machine. They run outside the machine's lock and may call
// back into it.
type Hooks struct {
	OnStateChange  func(State)
	OnTrack        func(*pion.TrackRemote)
	OnRemoteSource func(kind pion.RTPCodecType, source string)
}

// MachineConfig wires a Machine to its collaborators.
type MachineConfig struct {
	Conns   ConnFactory
	Media   MediaSource
	Emitter Emitter

	// ConnectTimeout fails the session if connectivity is not reached in
	// time after negotiation starts. Zero disables it.
	ConnectTimeout time.Duration

	Logger *slog.Logger
	Hooks  Hooks
}

// Machine is one PeerSession: it owns a single peer connection and the local
// streams feeding it, and walks them through offer/answer negotiation.
//
// All state is guarded by mu. Work that must not run under the lock (closing
// the peer connection, releasing streams, running hooks) is queued in
// deferred and run by unlock.
type Machine struct {
	id      string
	conns   ConnFactory
	media   MediaSource
	emitter Emitter
	timeout time.Duration
	logger  *slog.Logger
	hooks   Hooks

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	phase         Phase
	reserved      bool
	offerSeen     bool
	answerSeen    bool
	remoteApplied bool
	localSent     bool
	err           error

	pc           PeerConnection
	local        *media.Stream
	screen       *media.Stream
	remoteTracks []*pion.TrackRemote
	timer        *time.Timer

	inbound  CandidateBuffer
	outbound CandidateBuffer

	deferred []func()
}

// NewMachine creates an Idle PeerSession.
func NewMachine(cfg MachineConfig) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	return &Machine{
		id:      id,
		conns:   cfg.Conns,
		media:   cfg.Media,
		emitter: cfg.Emitter,
		timeout: cfg.ConnectTimeout,
		logger:  logger.With("session", id),
		hooks:   cfg.Hooks,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the session identifier used in logs.
func (m *Machine) ID() string {
	return m.id
}

// State returns the current state and, while Connecting, its phase.
func (m *Machine) State() (State, Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.phase
}

// Busy reports whether the machine has left Idle or is acquiring media to do so.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateIdle || m.reserved
}

// Err returns the error that moved the machine to Failed.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// LocalStream returns the camera/microphone stream, or nil before media is
// acquired and after teardown.
func (m *Machine) LocalStream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// ScreenStream returns the display stream currently feeding the video sender.
func (m *Machine) ScreenStream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen
}

// RemoteTracks returns the tracks received from the remote peer so far.
func (m *Machine) RemoteTracks() []*pion.TrackRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*pion.TrackRemote(nil), m.remoteTracks...)
}

// BufferedCandidates returns how many inbound candidates wait for the remote
// description.
func (m *Machine) BufferedCandidates() int {
	return m.inbound.Len()
}

// Initiate starts the caller side: acquire media, create and apply an offer,
// then emit it.
func (m *Machine) Initiate(ctx context.Context) error {
	const op = "initiate call"

	m.mu.Lock()
	if m.state != StateIdle || m.reserved {
		state := m.state
		m.unlock()
		return WrapError(op, ErrSessionAlreadyActive, state.String())
	}
	m.reserved = true
	m.mu.Unlock()

	stream, err := m.media.UserMedia(ctx)

	m.mu.Lock()
	defer m.unlock()

	m.reserved = false
	if err != nil {
		return m.failLocked(wrapCause(op, ErrMediaAcquisition, err))
	}
	if m.state != StateIdle {
		m.deferRelease(stream)
		return NewError(op, ErrSessionClosed)
	}

	if err := m.attachLocked(stream); err != nil {
		return m.failLocked(wrapCause(op, ErrDescriptionCreation, err))
	}

	offer, err := m.pc.CreateOffer()
	if err != nil {
		return m.failLocked(wrapCause(op, ErrDescriptionCreation, err))
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return m.failLocked(wrapCause(op, ErrDescriptionCreation, err))
	}

	m.setStateLocked(StateConnecting, PhaseLocalOfferPending)
	m.armTimerLocked()

	if err := m.emitter.Send(ctx, signaling.Offer{Description: offer}); err != nil {
		return m.failLocked(wrapCause(op, ErrSignaling, err))
	}
	m.logger.Info("offer sent")

	m.flushOutboundLocked()
	return nil
}

// HandleOffer runs the callee side for an inbound offer. An offer is only
// accepted once, and only while Idle.
func (m *Machine) HandleOffer(ctx context.Context, desc pion.SessionDescription) error {
	const op = "handle offer"

	m.mu.Lock()
	if m.offerSeen || m.state != StateIdle || m.reserved {
		state := m.state
		m.unlock()
		return WrapError(op, ErrUnexpectedOffer, state.String())
	}
	m.offerSeen = true
	m.setStateLocked(StateConnecting, PhaseRemoteOfferPending)
	m.armTimerLocked()
	m.unlock()

	stream, err := m.media.UserMedia(ctx)

	m.mu.Lock()
	defer m.unlock()

	if err != nil {
		return m.failLocked(wrapCause(op, ErrMediaAcquisition, err))
	}
	if m.state != StateConnecting {
		m.deferRelease(stream)
		return NewError(op, ErrSessionClosed)
	}

	if err := m.attachLocked(stream); err != nil {
		return m.failLocked(wrapCause(op, ErrDescriptionCreation, err))
	}

	if err := m.pc.SetRemoteDescription(desc); err != nil {
		return m.failLocked(wrapCause(op, ErrDescriptionCreation, err))
	}
	m.remoteApplied = true
	m.drainInboundLocked()

	answer, err := m.pc.CreateAnswer()
	if err != nil {
		return m.failLocked(wrapCause(op, ErrDescriptionCreation, err))
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return m.failLocked(wrapCause(op, ErrDescriptionCreation, err))
	}

	m.setStateLocked(StateDescriptionsExchanged, PhaseNone)

	if err := m.emitter.Send(ctx, signaling.Answer{Description: answer}); err != nil {
		return m.failLocked(wrapCause(op, ErrSignaling, err))
	}
	m.logger.Info("answer sent")

	m.flushOutboundLocked()
	return nil
}

// HandleAnswer applies the remote answer to our outstanding offer. Any other
// answer is rejected without touching the state.
func (m *Machine) HandleAnswer(desc pion.SessionDescription) error {
	const op = "handle answer"

	m.mu.Lock()
	defer m.unlock()

	if m.answerSeen || m.state != StateConnecting || m.phase != PhaseLocalOfferPending {
		return WrapError(op, ErrUnexpectedAnswer, m.state.String())
	}
	m.answerSeen = true

	if err := m.pc.SetRemoteDescription(desc); err != nil {
		return m.failLocked(wrapCause(op, ErrDescriptionCreation, err))
	}
	m.remoteApplied = true
	m.setStateLocked(StateDescriptionsExchanged, PhaseNone)
	m.logger.Info("answer applied")

	m.drainInboundLocked()
	return nil
}

// HandleCandidate applies an inbound candidate, or buffers it until the
// remote description is in place.
func (m *Machine) HandleCandidate(raw json.RawMessage) error {
	m.mu.Lock()
	defer m.unlock()

	if m.state.Terminal() {
		m.logger.Debug("candidate for finished session dropped")
		return nil
	}
	if !m.remoteApplied {
		m.inbound.Enqueue(raw)
		m.logger.Debug("candidate buffered", "buffered", m.inbound.Len())
		return nil
	}
	return m.applyCandidateLocked(raw)
}

// ReplaceOutboundVideo swaps the outbound video track. owner is the stream
// track belongs to when that stream is not the local camera stream; the
// machine takes it over and releases it when it is replaced or on teardown.
// Pass a nil owner to restore a track of the local stream.
func (m *Machine) ReplaceOutboundVideo(track pion.TrackLocal, owner *media.Stream) (pion.TrackLocal, error) {
	const op = "replace outbound video"

	m.mu.Lock()
	defer m.unlock()

	if m.pc == nil || (m.state != StateDescriptionsExchanged && m.state != StateConnected) {
		return nil, WrapError(op, ErrNoActiveVideoSender, m.state.String())
	}

	previous, err := ReplaceOutboundVideo(m.pc.Senders(), track)
	if err != nil {
		return nil, err
	}

	if owner != m.screen {
		if m.screen != nil {
			m.deferRelease(m.screen)
		}
		m.screen = owner
	}

	source := track.StreamID()
	m.logger.Info("outbound video replaced", "source", source)

	if a, ok := m.pc.(sourceAnnouncer); ok {
		if err := a.AnnounceSource(track.Kind(), source); err != nil {
			m.logger.Warn("source announcement failed", "err", err)
		}
	}
	return previous, nil
}

// Close tears the session down. A Failed session stays Failed.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.unlock()

	if m.state.Terminal() {
		return
	}
	m.setStateLocked(StateClosed, PhaseNone)
	m.teardownLocked()
	m.logger.Info("session closed")
}

func (m *Machine) attachLocked(stream *media.Stream) error {
	m.local = stream

	pc, err := m.conns.NewPeerConnection()
	if err != nil {
		return err
	}
	m.pc = pc

	pc.OnICECandidate(func(init pion.ICECandidateInit) {
		m.handleLocalCandidate(pc, init)
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		m.handleConnectionState(pc, state)
	})
	pc.OnTrack(func(track *pion.TrackRemote) {
		m.handleTrack(pc, track)
	})
	if l, ok := pc.(sourceListener); ok && m.hooks.OnRemoteSource != nil {
		l.OnRemoteSource(m.hooks.OnRemoteSource)
	}

	for _, track := range stream.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
	}
	return nil
}

func (m *Machine) applyCandidateLocked(raw json.RawMessage) error {
	const op = "apply candidate"

	var init pion.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return wrapCause(op, ErrMalformedCandidate, err)
	}
	if err := m.pc.AddICECandidate(init); err != nil {
		return wrapCause(op, ErrMalformedCandidate, err)
	}
	return nil
}

func (m *Machine) drainInboundLocked() {
	errs := m.inbound.DrainAndApply(m.applyCandidateLocked)
	for _, err := range errs {
		m.logger.Warn("buffered candidate skipped", "err", err)
	}
}

func (m *Machine) handleLocalCandidate(pc PeerConnection, init pion.ICECandidateInit) {
	m.mu.Lock()
	defer m.unlock()

	if m.pc != pc {
		return
	}

	sig, err := signaling.CandidateSignal(init)
	if err != nil {
		m.logger.Warn("local candidate not encodable", "err", err)
		return
	}

	if !m.localSent {
		m.outbound.Enqueue(sig.Init)
		return
	}
	if err := m.emitter.Send(m.ctx, sig); err != nil {
		m.logger.Warn("local candidate not sent", "err", err)
	}
}

func (m *Machine) flushOutboundLocked() {
	m.localSent = true
	errs := m.outbound.DrainAndApply(func(raw json.RawMessage) error {
		return m.emitter.Send(m.ctx, signaling.Candidate{Init: raw})
	})
	for _, err := range errs {
		m.logger.Warn("local candidate not sent", "err", err)
	}
}

func (m *Machine) handleConnectionState(pc PeerConnection, state pion.PeerConnectionState) {
	m.mu.Lock()
	defer m.unlock()

	if m.pc != pc {
		return
	}
	m.logger.Debug("peer connection state", "state", state.String())

	switch state {
	case pion.PeerConnectionStateConnected:
		if m.state == StateDescriptionsExchanged {
			m.stopTimerLocked()
			m.setStateLocked(StateConnected, PhaseNone)
			m.logger.Info("connected")
		}
	case pion.PeerConnectionStateFailed:
		m.failLocked(NewError("connectivity", ErrConnectionFailed))
	case pion.PeerConnectionStateClosed:
		if !m.state.Terminal() {
			m.setStateLocked(StateClosed, PhaseNone)
			m.teardownLocked()
		}
	}
}

func (m *Machine) handleTrack(pc PeerConnection, track *pion.TrackRemote) {
	m.mu.Lock()
	defer m.unlock()

	if m.pc != pc {
		return
	}
	m.remoteTracks = append(m.remoteTracks, track)
	m.logger.Info("remote track", "kind", track.Kind().String(), "stream", track.StreamID())

	if fn := m.hooks.OnTrack; fn != nil {
		m.deferred = append(m.deferred, func() { fn(track) })
	}
}

func (m *Machine) armTimerLocked() {
	if m.timeout <= 0 || m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.timeout, m.connectTimedOut)
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) connectTimedOut() {
	m.mu.Lock()
	defer m.unlock()

	if m.state == StateConnecting || m.state == StateDescriptionsExchanged {
		m.failLocked(WrapError("connect", ErrConnectTimeout, m.timeout.String()))
	}
}

// failLocked moves the machine to Failed, tears it down and returns err.
func (m *Machine) failLocked(err error) error {
	if m.state.Terminal() {
		return err
	}
	m.err = err
	m.setStateLocked(StateFailed, PhaseNone)
	m.teardownLocked()
	m.logger.Error("session failed", "err", err)
	return err
}

// teardownLocked detaches every resource so that each is released exactly once.
func (m *Machine) teardownLocked() {
	m.stopTimerLocked()
	m.cancel()
	m.reserved = false
	m.inbound.Reset()
	m.outbound.Reset()

	if pc := m.pc; pc != nil {
		m.pc = nil
		m.deferred = append(m.deferred, func() {
			if err := pc.Close(); err != nil {
				m.logger.Debug("closing peer connection", "err", err)
			}
		})
	}
	if m.local != nil {
		m.deferRelease(m.local)
		m.local = nil
	}
	if m.screen != nil {
		m.deferRelease(m.screen)
		m.screen = nil
	}
}

func (m *Machine) deferRelease(stream *media.Stream) {
	m.deferred = append(m.deferred, stream.Release)
}

func (m *Machine) setStateLocked(state State, phase Phase) {
	if m.state == state && m.phase == phase {
		return
	}
	m.state, m.phase = state, phase
	m.logger.Debug("state changed", "state", state.String(), "phase", phase.String())

	if fn := m.hooks.OnStateChange; fn != nil {
		m.deferred = append(m.deferred, func() { fn(state) })
	}
}

// unlock releases mu and then runs the work queued while it was held.
func (m *Machine) unlock() {
	deferred := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	for _, fn := range deferred {
		fn()
	}
}
