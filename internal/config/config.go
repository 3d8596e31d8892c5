package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultRelayURL       = "ws://localhost:8080/ws"
	DefaultListenAddr     = ":8080"
	DefaultMQTTBroker     = "tcp://localhost:1883"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultConnectTimeout = 30 * time.Second

	ModeWebSocket = "ws"
	ModeMQTT      = "mqtt"

	EnvPrefix = "WARPCALL"
)

// Keys understood in config files and as WARPCALL_* environment variables.
const (
	KeyRelayURL       = "relay_url"
	KeyListenAddr     = "listen_addr"
	KeyAdvertise      = "advertise"
	KeyDiscover       = "discover"
	KeySignaling      = "signaling"
	KeyMQTTBroker     = "mqtt_broker"
	KeyRoom           = "room"
	KeySTUNServer     = "stun_server"
	KeyTURNServer     = "turn_server"
	KeyTURNUser       = "turn_username"
	KeyTURNPass       = "turn_password"
	KeyForceRelay     = "force_relay"
	KeyConnectTimeout = "connect_timeout"
	KeyCameraFile     = "camera_file"
	KeyMicrophoneFile = "microphone_file"
	KeyScreenFile     = "screen_file"
	KeyRecordDir      = "record_dir"
	KeyLogLevel       = "log_level"
	KeyLogFile        = "log_file"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration
type Config struct {
	// Relay
	RelayURL   string
	ListenAddr string
	Advertise  bool
	Discover   bool

	// Signaling transport: "ws" or "mqtt"
	Signaling  string
	MQTTBroker string
	Room       string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// ConnectTimeout bounds the wait for connectivity after negotiation
	// starts. Zero disables it.
	ConnectTimeout time.Duration

	// Media files standing in for capture devices
	CameraFile     string
	MicrophoneFile string
	ScreenFile     string
	RecordDir      string

	LogLevel string
	LogFile  string
}

// Options carries values set explicitly on the command line. Zero values are
// ignored; pointers distinguish "unset" where zero is meaningful.
type Options struct {
	ConfigFile string

	RelayURL       string
	ListenAddr     string
	Advertise      *bool
	Discover       *bool
	Signaling      string
	MQTTBroker     string
	Room           string
	STUNServer     string
	TURNServer     string
	TURNUser       string
	TURNPass       string
	ForceRelay     *bool
	ConnectTimeout *time.Duration
	CameraFile     string
	MicrophoneFile string
	ScreenFile     string
	RecordDir      string
	LogLevel       string
	LogFile        string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyRelayURL, DefaultRelayURL)
	v.SetDefault(KeyListenAddr, DefaultListenAddr)
	v.SetDefault(KeyAdvertise, false)
	v.SetDefault(KeyDiscover, false)
	v.SetDefault(KeySignaling, ModeWebSocket)
	v.SetDefault(KeyMQTTBroker, DefaultMQTTBroker)
	v.SetDefault(KeyRoom, "")
	v.SetDefault(KeySTUNServer, DefaultSTUN)
	v.SetDefault(KeyTURNServer, "")
	v.SetDefault(KeyTURNUser, "")
	v.SetDefault(KeyTURNPass, "")
	v.SetDefault(KeyForceRelay, false)
	v.SetDefault(KeyConnectTimeout, DefaultConnectTimeout)
	v.SetDefault(KeyCameraFile, "")
	v.SetDefault(KeyMicrophoneFile, "")
	v.SetDefault(KeyScreenFile, "")
	v.SetDefault(KeyRecordDir, "")
	v.SetDefault(KeyLogLevel, "")
	v.SetDefault(KeyLogFile, "")
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (WARPCALL_*)
// 3. Config file, if one is given
// 4. Defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", opts.ConfigFile, err)
		}
	}

	applyOptions(v, opts)

	cfg := &Config{
		RelayURL:       v.GetString(KeyRelayURL),
		ListenAddr:     v.GetString(KeyListenAddr),
		Advertise:      v.GetBool(KeyAdvertise),
		Discover:       v.GetBool(KeyDiscover),
		Signaling:      strings.ToLower(v.GetString(KeySignaling)),
		MQTTBroker:     v.GetString(KeyMQTTBroker),
		Room:           v.GetString(KeyRoom),
		STUNServer:     v.GetString(KeySTUNServer),
		TURNServer:     v.GetString(KeyTURNServer),
		TURNUser:       v.GetString(KeyTURNUser),
		TURNPass:       v.GetString(KeyTURNPass),
		ForceRelay:     v.GetBool(KeyForceRelay),
		ConnectTimeout: v.GetDuration(KeyConnectTimeout),
		CameraFile:     v.GetString(KeyCameraFile),
		MicrophoneFile: v.GetString(KeyMicrophoneFile),
		ScreenFile:     v.GetString(KeyScreenFile),
		RecordDir:      v.GetString(KeyRecordDir),
		LogLevel:       strings.ToLower(v.GetString(KeyLogLevel)),
		LogFile:        v.GetString(KeyLogFile),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOptions(v *viper.Viper, opts Options) {
	setString := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	setBool := func(key string, value *bool) {
		if value != nil {
			v.Set(key, *value)
		}
	}

	setString(KeyRelayURL, opts.RelayURL)
	setString(KeyListenAddr, opts.ListenAddr)
	setBool(KeyAdvertise, opts.Advertise)
	setBool(KeyDiscover, opts.Discover)
	setString(KeySignaling, opts.Signaling)
	setString(KeyMQTTBroker, opts.MQTTBroker)
	setString(KeyRoom, opts.Room)
	setString(KeySTUNServer, opts.STUNServer)
	setString(KeyTURNServer, opts.TURNServer)
	setString(KeyTURNUser, opts.TURNUser)
	setString(KeyTURNPass, opts.TURNPass)
	setBool(KeyForceRelay, opts.ForceRelay)
	if opts.ConnectTimeout != nil {
		v.Set(KeyConnectTimeout, *opts.ConnectTimeout)
	}
	setString(KeyCameraFile, opts.CameraFile)
	setString(KeyMicrophoneFile, opts.MicrophoneFile)
	setString(KeyScreenFile, opts.ScreenFile)
	setString(KeyRecordDir, opts.RecordDir)
	setString(KeyLogLevel, opts.LogLevel)
	setString(KeyLogFile, opts.LogFile)
}

// Validate rejects combinations the peer cannot run with.
func (c *Config) Validate() error {
	switch c.Signaling {
	case ModeWebSocket, ModeMQTT:
	default:
		return fmt.Errorf("%w: signaling must be %q or %q, got %q", ErrInvalidConfig, ModeWebSocket, ModeMQTT, c.Signaling)
	}

	if c.Signaling == ModeMQTT && c.MQTTBroker == "" {
		return fmt.Errorf("%w: mqtt signaling needs a broker", ErrInvalidConfig)
	}

	if c.ForceRelay && c.TURNServer == "" {
		return fmt.Errorf("%w: force-relay needs a TURN server", ErrInvalidConfig)
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: connect timeout cannot be negative", ErrInvalidConfig)
	}

	switch c.LogLevel {
	case "", "none", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}

	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
