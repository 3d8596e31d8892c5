package call

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

func TestInitiateEmitsOffer(t *testing.T) {
	h := newHarness(t, 0)

	if err := h.machine.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	state, phase := h.machine.State()
	if state != StateConnecting || phase != PhaseLocalOfferPending {
		t.Fatalf("state = %v/%v, want connecting/local-offer-pending", state, phase)
	}

	sent := h.transport.signals()
	if len(sent) != 1 {
		t.Fatalf("sent %d signals, want 1", len(sent))
	}
	offer, ok := sent[0].(signaling.Offer)
	if !ok {
		t.Fatalf("sent %T, want signaling.Offer", sent[0])
	}
	if offer.Description.Type != pion.SDPTypeOffer {
		t.Errorf("offer type = %v", offer.Description.Type)
	}

	conn := h.factory.last()
	if len(conn.local) != 1 {
		t.Errorf("local description set %d times, want 1", len(conn.local))
	}
	video, audio := conn.sendersByKind()
	if video == nil || audio == nil {
		t.Errorf("expected both a video and an audio sender")
	}
}

func TestInitiateTwiceRejected(t *testing.T) {
	h := newHarness(t, 0)

	if err := h.machine.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	err := h.machine.Initiate(context.Background())
	if !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("second Initiate = %v, want ErrSessionAlreadyActive", err)
	}
	if h.factory.count() != 1 {
		t.Errorf("created %d connections, want 1", h.factory.count())
	}
}

func TestAnswerBeforeOfferRejected(t *testing.T) {
	h := newHarness(t, 0)

	err := h.machine.HandleAnswer(answerDesc())
	if !errors.Is(err, ErrUnexpectedAnswer) {
		t.Fatalf("HandleAnswer = %v, want ErrUnexpectedAnswer", err)
	}
	if !IsProtocolError(err) {
		t.Error("unexpected answer should be a protocol error")
	}
	if got := h.state(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestCallerAppliesAnswer(t *testing.T) {
	h := newHarness(t, 0)

	if err := h.machine.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := h.machine.HandleAnswer(answerDesc()); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if got := h.state(); got != StateDescriptionsExchanged {
		t.Fatalf("state = %v, want descriptions-exchanged", got)
	}

	err := h.machine.HandleAnswer(answerDesc())
	if !errors.Is(err, ErrUnexpectedAnswer) {
		t.Fatalf("second answer = %v, want ErrUnexpectedAnswer", err)
	}
	if n := len(h.factory.last().remote); n != 1 {
		t.Errorf("remote description applied %d times, want 1", n)
	}

	h.factory.last().fireState(pion.PeerConnectionStateConnected)
	if got := h.state(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
}

func TestCalleeAnswersOnceAndIgnoresDuplicateOffer(t *testing.T) {
	h := newHarness(t, 0)

	if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if got := h.state(); got != StateDescriptionsExchanged {
		t.Fatalf("state = %v, want descriptions-exchanged", got)
	}

	err := h.machine.HandleOffer(context.Background(), offerDesc())
	if !errors.Is(err, ErrUnexpectedOffer) {
		t.Fatalf("duplicate offer = %v, want ErrUnexpectedOffer", err)
	}
	if got := h.state(); got != StateDescriptionsExchanged {
		t.Errorf("state = %v after duplicate offer", got)
	}

	if got := h.transport.events(); !reflect.DeepEqual(got, []string{signaling.EventAnswer}) {
		t.Errorf("sent %v, want exactly one answer", got)
	}
	if n := len(h.factory.last().remote); n != 1 {
		t.Errorf("remote description applied %d times, want 1", n)
	}
}

func TestOfferWhileCallingRejected(t *testing.T) {
	h := newHarness(t, 0)

	if err := h.machine.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	err := h.machine.HandleOffer(context.Background(), offerDesc())
	if !errors.Is(err, ErrUnexpectedOffer) {
		t.Fatalf("HandleOffer = %v, want ErrUnexpectedOffer", err)
	}
	if state, phase := h.machine.State(); state != StateConnecting || phase != PhaseLocalOfferPending {
		t.Errorf("state = %v/%v, want unchanged", state, phase)
	}
}

func TestCandidatesAppliedExactlyOnceInAnyOrder(t *testing.T) {
	type step struct {
		candidate string
		offer     bool
	}

	tests := []struct {
		name  string
		steps []step
	}{
		{"all before offer", []step{{candidate: "a"}, {candidate: "b"}, {candidate: "c"}, {offer: true}}},
		{"all after offer", []step{{offer: true}, {candidate: "a"}, {candidate: "b"}, {candidate: "c"}}},
		{"interleaved", []step{{candidate: "a"}, {offer: true}, {candidate: "b"}, {candidate: "c"}}},
		{"split", []step{{candidate: "a"}, {candidate: "b"}, {offer: true}, {candidate: "c"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)

			for _, s := range tt.steps {
				if s.offer {
					if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
						t.Fatalf("HandleOffer: %v", err)
					}
					continue
				}
				if err := h.machine.HandleCandidate(candidate(s.candidate)); err != nil {
					t.Fatalf("HandleCandidate(%s): %v", s.candidate, err)
				}
			}

			got := h.factory.last().appliedCandidates()
			if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
				t.Errorf("applied %v, want %v", got, want)
			}
			if n := h.machine.BufferedCandidates(); n != 0 {
				t.Errorf("%d candidates left buffered", n)
			}
		})
	}
}

func TestCallerBuffersCandidatesUntilAnswer(t *testing.T) {
	h := newHarness(t, 0)

	if err := h.machine.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := h.machine.HandleCandidate(candidate("early")); err != nil {
		t.Fatalf("HandleCandidate: %v", err)
	}
	if got := h.factory.last().appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidate applied before remote description: %v", got)
	}

	if err := h.machine.HandleAnswer(answerDesc()); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if err := h.machine.HandleCandidate(candidate("late")); err != nil {
		t.Fatalf("HandleCandidate: %v", err)
	}

	if got, want := h.factory.last().appliedCandidates(), []string{"early", "late"}; !reflect.DeepEqual(got, want) {
		t.Errorf("applied %v, want %v", got, want)
	}
}

func TestMalformedCandidatesSkipped(t *testing.T) {
	h := newHarness(t, 0)

	for _, raw := range [][]byte{candidate("a"), []byte(`{"candidate": 42}`), candidate("bad"), candidate("b")} {
		if err := h.machine.HandleCandidate(raw); err != nil {
			t.Fatalf("buffering returned %v", err)
		}
	}
	if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	if got, want := h.factory.last().appliedCandidates(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("applied %v, want %v", got, want)
	}
	if got := h.state(); got != StateDescriptionsExchanged {
		t.Errorf("state = %v, want descriptions-exchanged", got)
	}

	err := h.machine.HandleCandidate(candidate("bad"))
	if !errors.Is(err, ErrMalformedCandidate) {
		t.Fatalf("HandleCandidate = %v, want ErrMalformedCandidate", err)
	}
	if got := h.state(); got != StateDescriptionsExchanged {
		t.Errorf("state = %v after malformed candidate", got)
	}
}

func TestLocalCandidatesFollowDescription(t *testing.T) {
	h := newHarness(t, 0)
	h.factory.setup = func(c *fakeConn) { c.emitCandidate = true }

	if err := h.machine.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, "local candidate", func() bool { return len(h.transport.signals()) == 2 })

	want := []string{signaling.EventOffer, signaling.EventICECandidate}
	if got := h.transport.events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent %v, want %v", got, want)
	}

	c := h.transport.signals()[1].(signaling.Candidate)
	var init pion.ICECandidateInit
	if err := json.Unmarshal(c.Init, &init); err != nil {
		t.Fatal(err)
	}
	if init.Candidate != "candidate:local" {
		t.Errorf("candidate = %q", init.Candidate)
	}
}

func TestMediaFailureFailsSession(t *testing.T) {
	h := newHarness(t, 0)
	h.media.userErr = errors.New("camera busy")

	err := h.machine.Initiate(context.Background())
	if !errors.Is(err, ErrMediaAcquisition) {
		t.Fatalf("Initiate = %v, want ErrMediaAcquisition", err)
	}
	if got := h.state(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
	if !errors.Is(h.machine.Err(), ErrMediaAcquisition) {
		t.Errorf("Err() = %v", h.machine.Err())
	}
	if h.factory.count() != 0 {
		t.Error("peer connection created despite media failure")
	}
	if len(h.transport.signals()) != 0 {
		t.Error("signal sent despite media failure")
	}
}

func TestDescriptionFailureReleasesResources(t *testing.T) {
	cause := errors.New("no codecs")

	tests := []struct {
		name  string
		setup func(*fakeConn)
		run   func(*Machine) error
	}{
		{
			name:  "offer",
			setup: func(c *fakeConn) { c.offerErr = cause },
			run:   func(m *Machine) error { return m.Initiate(context.Background()) },
		},
		{
			name:  "answer",
			setup: func(c *fakeConn) { c.answerErr = cause },
			run:   func(m *Machine) error { return m.HandleOffer(context.Background(), offerDesc()) },
		},
		{
			name:  "remote offer",
			setup: func(c *fakeConn) { c.setRemoteErr = cause },
			run:   func(m *Machine) error { return m.HandleOffer(context.Background(), offerDesc()) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			h.factory.setup = tt.setup

			err := tt.run(h.machine)
			if !errors.Is(err, ErrDescriptionCreation) || !errors.Is(err, cause) {
				t.Fatalf("err = %v, want ErrDescriptionCreation wrapping cause", err)
			}
			if got := h.state(); got != StateFailed {
				t.Errorf("state = %v, want failed", got)
			}
			if !h.media.lastUser().Released() {
				t.Error("local stream not released")
			}
			if n := h.factory.last().closeCount(); n != 1 {
				t.Errorf("peer connection closed %d times, want 1", n)
			}
		})
	}
}

func TestTeardownReleasesOnce(t *testing.T) {
	tests := []struct {
		name  string
		reach func(*testing.T, *harness)
		want  State
	}{
		{
			name: "connecting",
			reach: func(t *testing.T, h *harness) {
				if err := h.machine.Initiate(context.Background()); err != nil {
					t.Fatal(err)
				}
			},
			want: StateClosed,
		},
		{
			name: "descriptions exchanged",
			reach: func(t *testing.T, h *harness) {
				if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
					t.Fatal(err)
				}
			},
			want: StateClosed,
		},
		{
			name: "connected",
			reach: func(t *testing.T, h *harness) {
				if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
					t.Fatal(err)
				}
				h.factory.last().fireState(pion.PeerConnectionStateConnected)
			},
			want: StateClosed,
		},
		{
			name: "failed",
			reach: func(t *testing.T, h *harness) {
				if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
					t.Fatal(err)
				}
				h.factory.last().fireState(pion.PeerConnectionStateFailed)
			},
			want: StateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			tt.reach(t, h)

			h.machine.Close()
			h.machine.Close()

			if got := h.state(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
			if !h.media.lastUser().Released() {
				t.Error("local stream not released")
			}
			if n := h.factory.last().closeCount(); n != 1 {
				t.Errorf("peer connection closed %d times, want 1", n)
			}
			if h.machine.LocalStream() != nil {
				t.Error("machine still references the local stream")
			}
		})
	}
}

func TestTransportClosedTearsDown(t *testing.T) {
	h := newHarness(t, 0)
	if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
		t.Fatal(err)
	}

	conn := h.factory.last()
	conn.fireState(pion.PeerConnectionStateClosed)

	if got := h.state(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if !h.media.lastUser().Released() {
		t.Error("local stream not released")
	}
}

func TestConnectTimeout(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)

	if err := h.machine.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	waitFor(t, "failed state", func() bool { return h.state() == StateFailed })

	if !errors.Is(h.machine.Err(), ErrConnectTimeout) {
		t.Errorf("Err() = %v, want ErrConnectTimeout", h.machine.Err())
	}
	waitFor(t, "connection close", func() bool { return h.factory.last().closeCount() == 1 })
	waitFor(t, "stream release", func() bool { return h.media.lastUser().Released() })
}

func TestConnectTimeoutStopsOnConnect(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)

	if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
		t.Fatal(err)
	}
	h.factory.last().fireState(pion.PeerConnectionStateConnected)

	time.Sleep(60 * time.Millisecond)
	if got := h.state(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestEmitFailureFailsSession(t *testing.T) {
	h := newHarness(t, 0)
	h.transport.sendErr = errors.New("relay gone")

	err := h.machine.Initiate(context.Background())
	if !errors.Is(err, ErrSignaling) {
		t.Fatalf("Initiate = %v, want ErrSignaling", err)
	}
	if got := h.state(); got != StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestMachineReplaceOutboundVideo(t *testing.T) {
	h := newHarness(t, 0)
	if err := h.machine.HandleOffer(context.Background(), offerDesc()); err != nil {
		t.Fatal(err)
	}
	conn := h.factory.last()
	conn.fireState(pion.PeerConnectionStateConnected)

	video, audio := conn.sendersByKind()
	camera := video.Track()
	mic := audio.Track()

	screen, err := h.media.DisplayMedia(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	screenTrack := screen.VideoTracks()[0]

	previous, err := h.machine.ReplaceOutboundVideo(screenTrack, screen)
	if err != nil {
		t.Fatalf("ReplaceOutboundVideo: %v", err)
	}
	if previous != camera {
		t.Error("previous track is not the camera track")
	}
	if video.Track() != screenTrack {
		t.Error("video sender does not carry the screen track")
	}
	if audio.Track() != mic || audio.replaced != 0 {
		t.Error("audio sender was touched")
	}
	if got := h.state(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
	if !reflect.DeepEqual(conn.announced, []string{"video:screen"}) {
		t.Errorf("announced %v", conn.announced)
	}

	if _, err := h.machine.ReplaceOutboundVideo(camera, nil); err != nil {
		t.Fatalf("restoring camera: %v", err)
	}
	if !screen.Released() {
		t.Error("screen stream not released after restoring camera")
	}
	if video.Track() != camera {
		t.Error("camera not restored")
	}
}

func TestMachineReplaceWithoutCall(t *testing.T) {
	h := newHarness(t, 0)
	track := newTestTrack(t, pion.MimeTypeVP8, "screen-video", "screen")

	_, err := h.machine.ReplaceOutboundVideo(track, nil)
	if !errors.Is(err, ErrNoActiveVideoSender) {
		t.Fatalf("err = %v, want ErrNoActiveVideoSender", err)
	}
	if got := h.state(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestStateChangesObserved(t *testing.T) {
	h := newHarness(t, 0)

	if err := h.machine.Initiate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.machine.HandleAnswer(answerDesc()); err != nil {
		t.Fatal(err)
	}
	h.factory.last().fireState(pion.PeerConnectionStateConnected)
	h.machine.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	want := []State{StateConnecting, StateDescriptionsExchanged, StateConnected, StateClosed}
	if !reflect.DeepEqual(h.states, want) {
		t.Errorf("states = %v, want %v", h.states, want)
	}
}
