package rtc

import (
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

const (
	controlLabel = "call-control"
	controlID    = uint16(1)
)

// controlChannel is a pre-negotiated data channel both peers open with the
// same ID, so it needs no in-band announcement.
type controlChannel struct {
	dc     *pion.DataChannel
	logger *slog.Logger

	mu       sync.Mutex
	open     bool
	pending  [][]byte
	onSource func(kind pion.RTPCodecType, source string)
}

func newControlChannel(pc *pion.PeerConnection, logger *slog.Logger) (*controlChannel, error) {
	negotiated := true
	ordered := true
	id := controlID

	dc, err := pc.CreateDataChannel(controlLabel, &pion.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, err
	}

	c := &controlChannel{dc: dc, logger: logger}
	dc.OnOpen(c.flush)
	dc.OnMessage(c.handle)
	return c, nil
}

func (c *controlChannel) flush() {
	c.mu.Lock()
	c.open = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, data := range pending {
		if err := c.dc.Send(data); err != nil {
			c.logger.Warn("control message not sent", "err", err)
		}
	}
}

func (c *controlChannel) handle(msg pion.DataChannelMessage) {
	m, err := DecodeMessage(msg.Data)
	if err != nil {
		c.logger.Warn("dropping undecodable control message", "err", err)
		return
	}

	switch m.Type {
	case MessageTypeSource:
		var payload SourcePayload
		if err := m.DecodePayload(&payload); err != nil {
			c.logger.Warn("dropping malformed source message", "err", err)
			return
		}

		c.mu.Lock()
		fn := c.onSource
		c.mu.Unlock()
		if fn != nil {
			fn(pion.NewRTPCodecType(payload.Kind), payload.Source)
		}

	default:
		c.logger.Debug("ignoring control message", "type", m.Type)
	}
}

// send delivers data now if the channel is open, or once it opens.
func (c *controlChannel) send(data []byte) error {
	c.mu.Lock()
	if !c.open {
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.dc.Send(data)
}

func (c *controlChannel) announce(kind pion.RTPCodecType, source string) error {
	m, err := NewMessage(MessageTypeSource, SourcePayload{Kind: kind.String(), Source: source})
	if err != nil {
		return err
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return c.send(data)
}

func (c *controlChannel) setSourceHandler(fn func(kind pion.RTPCodecType, source string)) {
	c.mu.Lock()
	c.onSource = fn
	c.mu.Unlock()
}
