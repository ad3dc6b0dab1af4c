package mqtt

import (
	"context"
	"encoding/json"
	"io"

	"github.com/golang/glog"

	fx "github.com/robotalks/gstream/pkg/framework"
	"github.com/robotalks/gstream/pkg/transport"
)

// Port is the local line channel served by a Bridge.
type Port interface {
	transport.LineReadWriter
	io.Closer
}

// Bridge serves a local Port (e.g. a serial port) to MQTT clients.
// Lines received on id/tx are written to the Port, lines read from the
// Port are published on id/rx.
type Bridge struct {
	Queue *Queue
	ID    string
	Meta  BridgeMeta
	Port  Port

	metaJSON []byte
	rw       *ReadWriter
}

// NewBridge creates a Bridge.
func NewBridge(brokerURL, id string, port Port, meta BridgeMeta) (*Bridge, error) {
	metaJSON, err := json.Marshal(&meta)
	if err != nil {
		return nil, err
	}
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+id+"/meta", nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("gstream:" + id)
	}
	b := &Bridge{
		Queue:    NewQueue(opts, topicPrefix),
		ID:       id,
		Meta:     meta,
		Port:     port,
		metaJSON: metaJSON,
	}
	b.Queue.OnConnect = func(*Queue) { b.publishMeta(b.metaJSON) }
	b.rw = NewReadWriter(b.Queue).ForBridge(id)
	return b, nil
}

// Run implements Runnable.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Queue.Connect(); err != nil {
		return err
	}
	defer b.Queue.Close()
	defer b.publishMeta(nil)
	if err := b.rw.Start(); err != nil {
		return err
	}
	glog.Infof("bridge %s serving", b.ID)
	return fx.NewRunnerWith(ctx).
		Go(fx.NamedRun("downlink", fx.RunFunc(b.downlink)),
			fx.NamedRun("uplink", fx.RunFunc(b.uplink))).
		Wait()
}

func (b *Bridge) downlink(ctx context.Context) error {
	return fx.RunWithContextCloser(ctx, b.rw, func() error {
		return pump(b.rw, b.Port)
	})
}

func (b *Bridge) uplink(ctx context.Context) error {
	return fx.RunWithContextCloser(ctx, b.Port, func() error {
		return pump(b.Port, b.rw)
	})
}

func (b *Bridge) publishMeta(payload []byte) {
	token := b.Queue.PubWith(b.ID+"/meta", payload, 1, true)
	token.Wait()
	if err := token.Error(); err != nil {
		glog.Warningf("publish meta error: %v", err)
	}
}

func pump(r transport.LineReader, w transport.LineWriter) error {
	for {
		line, err := r.ReadLine()
		if err != nil {
			return err
		}
		if err = w.WriteLine(line); err != nil {
			return err
		}
	}
}
