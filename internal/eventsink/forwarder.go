// Package eventsink forwards bus events to a socket.io server so an
// external dashboard can follow a run live.
package eventsink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/vk/monogrid/internal/ctxlog"
	"github.com/vk/monogrid/internal/events"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Config locates the socket.io endpoint.
type Config struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// EmitFunc sends one named payload.
type EmitFunc func(event string, payload any)

// Forwarder emits every bus event as a JSON object named after its type.
type Forwarder struct {
	emit  EmitFunc
	close func()
}

// NewForwarder wraps an arbitrary emit function.
func NewForwarder(emit EmitFunc) *Forwarder {
	return &Forwarder{emit: emit, close: func() {}}
}

// Connect dials the socket.io server over a websocket transport and waits
// for the connection to be acknowledged.
func Connect(ctx context.Context, cfg Config) (*Forwarder, error) {
	logger := ctxlog.FromContext(ctx).With("component", "eventsink", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected event forwarder.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})
	io.Connect()

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	return &Forwarder{
		emit:  func(event string, payload any) { io.Emit(event, payload) },
		close: func() { io.Disconnect() },
	}, nil
}

// Attach subscribes the forwarder to every event on bus. Forwarding
// problems are logged and never fail the publisher.
func (f *Forwarder) Attach(bus *events.Bus) (detach func()) {
	return bus.Subscribe(func(ctx context.Context, ev events.Event) error {
		payload, err := toPayload(ev)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Cannot forward event.", "event", ev.EventType(), "error", err)
			return nil
		}
		f.emit(string(ev.EventType()), payload)
		return nil
	})
}

// Close disconnects from the server.
func (f *Forwarder) Close() {
	f.close()
}

func toPayload(ev events.Event) (map[string]any, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
