// Package tcp connects to firmware exposed on a TCP socket (e.g. ser2net).
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/robotalks/gstream/pkg/transport"
	"github.com/robotalks/gstream/pkg/transport/framed"
)

// KeepAlivePeriod for dialed connections.
const KeepAlivePeriod = 30 * time.Second

// Dial connects to address and returns a stream.Transport.
func Dial(ctx context.Context, address string) (*transport.Conn, error) {
	d := net.Dialer{KeepAlive: KeepAlivePeriod}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return transport.NewConn(framed.New(conn)), nil
}
