package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robotalks/gstream/pkg/transport"
)

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// BridgeMeta describes a Bridge, published retained on id/meta.
type BridgeMeta struct {
	Description string            `json:"description,omitempty"`
	Device      string            `json:"device,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// BridgeInfo is a discovered Bridge.
type BridgeInfo struct {
	ID   string     `json:"id"`
	Meta BridgeMeta `json:"meta"`
}

// ParseBridgeURL splits mqtt://host:port/prefix/id into the broker URL
// carrying the topic prefix and the bridge id.
func ParseBridgeURL(bridgeURL string) (brokerURL, id string, err error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return "", "", err
	}
	p := strings.TrimSuffix(u.Path, "/")
	pos := strings.LastIndex(p, "/")
	if pos < 0 || pos+1 >= len(p) {
		return "", "", fmt.Errorf("bridge id missing in %q", bridgeURL)
	}
	id, u.Path = p[pos+1:], p[:pos+1]
	return u.String(), id, nil
}

// Client is a stream.Transport reaching a Bridge.
type Client struct {
	*transport.Conn
	Queue *Queue
	ID    string
}

// Dial connects to the bridge at mqtt://host:port/prefix/id.
func Dial(bridgeURL string) (*Client, error) {
	brokerURL, id, err := ParseBridgeURL(bridgeURL)
	if err != nil {
		return nil, err
	}
	q, err := NewQueueFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if err = q.Connect(); err != nil {
		return nil, fmt.Errorf("connect MQTT broker: %w", err)
	}
	rw := NewReadWriter(q).ForClient(id)
	if err = rw.Start(); err != nil {
		q.Close()
		return nil, err
	}
	return &Client{Conn: transport.NewConn(rw), Queue: q, ID: id}, nil
}

// Close implements stream.Transport.
func (c *Client) Close() error {
	err := c.Conn.Close()
	c.Queue.Close()
	return err
}

// Discover enumerates bridges registered under the broker URL prefix.
func Discover(ctx context.Context, brokerURL string, timeout time.Duration) (res []BridgeInfo, err error) {
	q, err := NewQueueFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if err = q.Connect(); err != nil {
		return nil, err
	}
	defer q.Close()
	resCh := make(chan BridgeInfo, 1)
	sub := q.Sub("+/meta", Handler(func(topic string, payload []byte) {
		if len(payload) == 0 {
			return
		}
		info := BridgeInfo{ID: strings.TrimSuffix(topic, "/meta")}
		if err := json.Unmarshal(payload, &info.Meta); err != nil {
			return
		}
		select {
		case resCh <- info:
		case <-time.After(time.Second):
		}
	}))
	defer sub.Close()

	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	expired := time.After(timeout)
	for {
		select {
		case info := <-resCh:
			res = append(res, info)
		case <-expired:
			return
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
	}
}
