package agent

import (
	"bytes"
	"errors"
	"fmt"
	"net"
)

// ErrInvalidMAC is returned for MAC addresses that are not 6-byte EUI-48
var ErrInvalidMAC = errors.New("invalid MAC address")

// MagicPacket builds a Wake-on-LAN payload: six 0xFF bytes followed by the
// hardware address repeated sixteen times.
func MagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	packet := make([]byte, 0, 102)
	packet = append(packet, bytes.Repeat([]byte{0xFF}, 6)...)
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

// Waker broadcasts magic packets over UDP
type Waker struct {
	addr string
}

// NewWaker sends to addr, normally the LAN broadcast address on port 9
func NewWaker(addr string) *Waker {
	return &Waker{addr: addr}
}

// Wake sends one magic packet for mac
func (w *Waker) Wake(mac string) error {
	packet, err := MagicPacket(mac)
	if err != nil {
		return err
	}

	// Go enables SO_BROADCAST on UDP sockets
	conn, err := net.Dial("udp", w.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("send magic packet: %w", err)
	}
	return nil
}
