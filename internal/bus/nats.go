// Package bus carries run requests and run events over NATS as JSON.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	DefaultRunSubject    = "loom.runs.requested"
	DefaultRunQueue      = "loom-workers"
	DefaultResultSubject = "loom.runs.done"
)

// LifecycleSubject is where per-stage events for subject are published.
func LifecycleSubject(subject string) string { return subject + ".lifecycle" }

// Publisher is the publishing half of the bus.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

type Client struct{ nc *nats.Conn }

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("loom"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

// Close flushes pending publishes and closes the connection before it returns.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.FlushTimeout(5 * time.Second); err != nil {
		slog.Warn("nats flush before close failed", "err", err)
	}
	c.nc.Close()
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		handler(ctx, msg.Data)
	})
}

// QueueSubscribeJSON delivers each message on subject to one member of queue.
// The handler context is derived from parent and bounded by timeout.
func (c *Client) QueueSubscribeJSON(parent context.Context, subject, queue string, timeout time.Duration, handler func(ctx context.Context, data []byte) error) (*nats.Subscription, error) {
	return c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		if err := handler(ctx, msg.Data); err != nil {
			slog.Error("handle message failed", "subject", msg.Subject, "err", err)
		}
	})
}
