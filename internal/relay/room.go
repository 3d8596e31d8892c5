package relay

// Room holds the two participants of a call. The host created it; the guest
// joined it.
type Room struct {
	ID    string
	Host  *Client
	Guest *Client
}

// other returns the participant that is not c.
func (r *Room) other(c *Client) *Client {
	if r.Host == c {
		return r.Guest
	}
	if r.Guest == c {
		return r.Host
	}
	return nil
}

// remove takes c out of the room.
func (r *Room) remove(c *Client) {
	switch c {
	case r.Host:
		r.Host = nil
	case r.Guest:
		r.Guest = nil
	}
}

func (r *Room) empty() bool {
	return r.Host == nil && r.Guest == nil
}

func (r *Room) full() bool {
	return r.Host != nil && r.Guest != nil
}

// add places c in the free seat.
func (r *Room) add(c *Client) {
	if r.Host == nil {
		r.Host = c
		return
	}
	r.Guest = c
}
