package serial

import (
	"fmt"
	"io"
	"net"
	"time"

	goserial "go.bug.st/serial"

	"github.com/TihanPelser/370Z-CAN-Logger/errors"
)

// Transport abstracts the byte stream a Source reads frames from. Connect is
// called once per (re)connection attempt and hands back a reader the caller
// owns; closing the reader releases the underlying resource.
type Transport interface {
	Connect() (io.ReadCloser, error)

	// String describes the endpoint for logs.
	String() string
}

// SerialTransport reads from a USB serial CAN adapter.
type SerialTransport struct {
	Port string
	Baud int
}

// Connect opens the serial port in 8N1 mode at the configured baud rate.
func (t *SerialTransport) Connect() (io.ReadCloser, error) {
	baud := t.Baud
	if baud == 0 {
		baud = 115200
	}

	mode := &goserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}

	port, err := goserial.Open(t.Port, mode)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: open %s at %d baud: %w", errors.ErrConnectFailed, t.Port, baud, err),
			"serial-transport", "Connect", "port open")
	}
	return port, nil
}

func (t *SerialTransport) String() string {
	return fmt.Sprintf("serial://%s@%d", t.Port, t.Baud)
}

// TCPTransport reads frames from a network CAN bridge, e.g. socat exposing a
// serial adapter over TCP.
type TCPTransport struct {
	Address string
	Timeout time.Duration
}

// Connect dials the configured address.
func (t *TCPTransport) Connect() (io.ReadCloser, error) {
	timeout := t.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	conn, err := net.DialTimeout("tcp", t.Address, timeout)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: dial %s: %w", errors.ErrConnectFailed, t.Address, err),
			"tcp-transport", "Connect", "dial")
	}
	return conn, nil
}

func (t *TCPTransport) String() string {
	return fmt.Sprintf("tcp://%s", t.Address)
}
