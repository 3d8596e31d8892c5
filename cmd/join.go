package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/warpcall/internal/call"
	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/media"
	"github.com/BioHazard786/warpcall/internal/rtc"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/BioHazard786/warpcall/internal/utils"
	petname "github.com/dustinkirkland/golang-petname"
	pion "github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

const discoverTimeout = 5 * time.Second

var (
	flagRelayURL   string
	flagDiscover   bool
	flagSignaling  string
	flagBroker     string
	flagRoom       string
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagForceRelay bool
	flagTimeout    time.Duration
	flagCamera     string
	flagMicrophone string
	flagScreen     string
	flagRecordDir  string
	flagNoTUI      bool
	flagAutoCall   bool
)

var joinCmd = &cobra.Command{
	Use:     "join",
	Aliases: []string{"j"},
	Short:   "Create or join a call room",
	Long: `Create a room on the relay, or join an existing one with --room, and open the
call console. Camera, microphone and screen are read from IVF (VP8/VP9/AV1)
and Ogg/Opus files and loop for as long as they are shared.

Examples:
  warpcall join --camera cam.ivf --microphone mic.ogg --screen desktop.ivf
  warpcall join --room brave-otter --camera cam.ivf
  warpcall join --signaling mqtt --mqtt-broker tcp://broker:1883 --room brave-otter
  warpcall join --discover --no-tui --call --record-dir ./recording`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd)
	},
}

func joinOptions(cmd *cobra.Command) config.Options {
	opts := config.Options{
		RelayURL:       flagRelayURL,
		Signaling:      flagSignaling,
		MQTTBroker:     flagBroker,
		Room:           flagRoom,
		STUNServer:     flagSTUN,
		TURNServer:     flagTURN,
		TURNUser:       flagTURNUser,
		TURNPass:       flagTURNPass,
		CameraFile:     flagCamera,
		MicrophoneFile: flagMicrophone,
		ScreenFile:     flagScreen,
		RecordDir:      flagRecordDir,
	}

	flags := cmd.Flags()
	if flags.Changed("discover") {
		opts.Discover = &flagDiscover
	}
	if flags.Changed("force-relay") {
		opts.ForceRelay = &flagForceRelay
	}
	if flags.Changed("timeout") {
		opts.ConnectTimeout = &flagTimeout
	}
	return opts
}

// link is the signaling side of a room the peer is in.
type link struct {
	transport signaling.Transport
	room      string
	peerLeft  <-chan struct{}
}

func runJoin(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, cleanup, err := setup(joinOptions(cmd), !flagNoTUI)
	if err != nil {
		return err
	}
	defer cleanup()
	logger := slog.Default()

	l, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer l.transport.Close()

	session := call.NewSession(call.SessionConfig{
		Transport: l.transport,
		Conns:     &rtc.Factory{Config: cfg, Logger: logger},
		Media: &media.FileSource{
			CameraFile:     cfg.CameraFile,
			MicrophoneFile: cfg.MicrophoneFile,
			ScreenFile:     cfg.ScreenFile,
			Logger:         logger,
		},
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})

	var rec *media.Recorder
	if cfg.RecordDir != "" {
		rec, err = media.NewRecorder(cfg.RecordDir, logger)
		if err != nil {
			session.Close()
			return err
		}
		session.OnRemoteTrack(func(track *pion.TrackRemote) {
			if err := rec.Record(track); err != nil {
				logger.Warn("not recording remote track", "kind", track.Kind().String(), "err", err)
			}
		})
	}

	if flagNoTUI {
		err = runHeadless(ctx, session, l)
	} else {
		err = runConsole(ctx, session, l)
	}

	session.Close()
	if rec != nil {
		if cerr := rec.Close(); cerr != nil {
			logger.Warn("closing recorder", "err", cerr)
		}
	}

	renderSummary(l.room, session.Stats())
	return err
}

func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*link, error) {
	if cfg.Signaling == config.ModeMQTT {
		return connectBroker(ctx, cfg, logger)
	}
	return connectRelay(ctx, cfg, logger)
}

func connectRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*link, error) {
	relayURL := cfg.RelayURL
	if cfg.Discover {
		stop := ui.RunConnectionSpinner("Looking for a relay on the local network...")
		found, err := signaling.Discover(ctx, discoverTimeout)
		stop()
		if err != nil {
			return nil, call.NewError("discover relay", err)
		}
		relayURL = found
	}

	stop := ui.RunConnectionSpinner("Connecting to relay...")
	client := signaling.NewClient(relayURL, logger)
	err := client.Connect(ctx)
	stop()
	if err != nil {
		return nil, call.NewError("connect to relay", err)
	}

	l := &link{transport: client, peerLeft: client.PeerLeft()}

	if cfg.Room != "" {
		if err := client.JoinRoom(ctx, cfg.Room); err != nil {
			client.Close()
			return nil, call.NewError("join room", err)
		}
		l.room = cfg.Room
		fmt.Fprintln(ui.Output)
		ui.RenderRoomInfo(l.room, relayURL)
		return l, nil
	}

	room, err := client.CreateRoom(ctx)
	if err != nil {
		client.Close()
		return nil, call.NewError("create room", err)
	}
	l.room = room
	fmt.Fprintln(ui.Output)
	ui.RenderRoomInfo(room, relayURL)

	if err := waitForPeer(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

func waitForPeer(ctx context.Context, client *signaling.Client) error {
	fmt.Fprintln(ui.Output)
	stopSpinner := ui.RunWaitingSpinner("Waiting for the other participant to join...")
	defer stopSpinner()

	select {
	case <-client.PeerJoined():
		stopSpinner()
		ui.PrintSuccess("Participant joined")
		return nil
	case msg := <-client.Errors():
		return call.WrapError("wait for peer", call.ErrSignaling, msg)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func connectBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*link, error) {
	room := cfg.Room
	if room == "" {
		room = petname.Generate(2, "-")
	}

	stop := ui.RunConnectionSpinner("Connecting to broker...")
	client, err := signaling.NewMQTTClient(ctx, cfg.MQTTBroker, room, logger)
	stop()
	if err != nil {
		return nil, call.NewError("connect to broker", err)
	}

	fmt.Fprintln(ui.Output)
	ui.RenderRoomInfo(room, cfg.MQTTBroker)
	return &link{transport: client, room: room}, nil
}

func runConsole(ctx context.Context, session *call.Session, l *link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	console := ui.NewConsole(ctx, session, l.room)
	send := console.Send

	session.OnStateChange(func(state call.State) {
		send(ui.StateMsg(state.String()))
	})
	session.OnChat(func(text string) {
		send(ui.ChatMsg(text))
	})
	session.OnRemoteSource(func(kind pion.RTPCodecType, source string) {
		send(ui.RemoteSourceMsg{Kind: kind.String(), Source: source})
	})

	go watchPeer(ctx, session, l, func(notice string) {
		send(ui.NoticeMsg(notice))
	})

	if flagAutoCall {
		go func() {
			if err := session.InitiateCall(ctx); err != nil {
				send(ui.NoticeMsg(err.Error()))
			}
		}()
	}

	return console.Run()
}

func runHeadless(ctx context.Context, session *call.Session, l *link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ended := make(chan call.State, 1)
	session.OnStateChange(func(state call.State) {
		ui.PrintInfof("%s call %s", ui.IconConnect, state)
		if state.Terminal() {
			select {
			case ended <- state:
			default:
			}
		}
	})
	session.OnChat(func(text string) {
		ui.PrintInfof("%s peer: %s", ui.IconChat, text)
	})
	session.OnRemoteSource(func(kind pion.RTPCodecType, source string) {
		ui.PrintInfof("peer switched %s to %s", kind, source)
	})

	go watchPeer(ctx, session, l, ui.PrintWarning)

	if flagAutoCall {
		if err := session.InitiateCall(ctx); err != nil {
			return err
		}
	}

	select {
	case <-ended:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// watchPeer hangs up when the relay reports that the other participant left.
func watchPeer(ctx context.Context, session *call.Session, l *link, notify func(string)) {
	if l.peerLeft == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.peerLeft:
			session.Hangup()
			notify("The other participant left the room")
		}
	}
}

func renderSummary(room string, stats call.Stats) {
	summary := ui.CallSummary{
		Room:         room,
		Status:       stats.LastState.String(),
		Calls:        stats.Calls,
		Duration:     "-",
		ChatSent:     stats.ChatSent,
		ChatReceived: stats.ChatReceived,
		ScreenShares: stats.ScreenShares,
	}
	if !stats.ConnectedAt.IsZero() {
		end := stats.EndedAt
		if end.Before(stats.ConnectedAt) {
			end = time.Now()
		}
		summary.Duration = utils.FormatTimeDuration(end.Sub(stats.ConnectedAt))
	}
	if stats.LastError != nil {
		summary.Error = stats.LastError.Error()
	}

	fmt.Fprintln(ui.Output)
	ui.RenderCallSummary("📊 Call Summary", summary)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	flags := joinCmd.Flags()
	flags.StringVarP(&flagRelayURL, "relay", "r", "", "Relay WebSocket URL (default "+config.DefaultRelayURL+")")
	flags.BoolVar(&flagDiscover, "discover", false, "Find a relay on the local network over mDNS")
	flags.StringVar(&flagSignaling, "signaling", "", "Signaling transport: ws or mqtt")
	flags.StringVar(&flagBroker, "mqtt-broker", "", "MQTT broker URL for --signaling mqtt")
	flags.StringVar(&flagRoom, "room", "", "Join this room instead of creating one")
	flags.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	flags.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	flags.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	flags.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	flags.BoolVar(&flagForceRelay, "force-relay", false, "Only use TURN relay candidates")
	flags.DurationVar(&flagTimeout, "timeout", config.DefaultConnectTimeout, "Give up if the call does not connect in time (0 disables)")
	flags.StringVar(&flagCamera, "camera", "", "IVF file standing in for the camera")
	flags.StringVar(&flagMicrophone, "microphone", "", "Ogg/Opus file standing in for the microphone")
	flags.StringVar(&flagScreen, "screen", "", "IVF file standing in for the screen capture")
	flags.StringVar(&flagRecordDir, "record-dir", "", "Record remote media into this directory")
	flags.BoolVar(&flagNoTUI, "no-tui", false, "Print events instead of opening the call console")
	flags.BoolVar(&flagAutoCall, "call", false, "Start the call as soon as the room is ready")
}
