// Package push consumes the backend's push channel: a WebSocket carrying one
// JSON frame per task notification.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
)

// ErrMalformed is returned by Decode for frames that cannot be used
var ErrMalformed = errors.New("malformed push frame")

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type payload struct {
	TaskID   string  `json:"task_id"`
	Progress float64 `json:"progress"`
	Step     string  `json:"step"`
	Message  string  `json:"message"`
}

// Decode parses a frame of the form {"event": name, "data": {...}}
func Decode(raw []byte) (models.PushEvent, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return models.PushEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	eventType := models.EventType(f.Event)
	if !eventType.IsPushEvent() {
		return models.PushEvent{}, fmt.Errorf("%w: unknown event %q", ErrMalformed, f.Event)
	}

	var p payload
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return models.PushEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if p.TaskID == "" {
		return models.PushEvent{}, fmt.Errorf("%w: %s event without task_id", ErrMalformed, f.Event)
	}

	return models.PushEvent{
		Type:     eventType,
		TaskID:   p.TaskID,
		Progress: p.Progress,
		Step:     p.Step,
		Message:  p.Message,
	}, nil
}

// Handler receives every decoded event
type Handler func(ctx context.Context, ev models.PushEvent)

// Listener keeps a connection to the push channel open until its context ends
type Listener struct {
	url       string
	delay     time.Duration
	handle    Handler
	dialer    *websocket.Dialer
	log       *zap.Logger
	connected atomic.Bool
}

// NewListener creates a listener that redials after delay when the channel drops
func NewListener(url string, delay time.Duration, handle Handler) *Listener {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Listener{
		url:    url,
		delay:  delay,
		handle: handle,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logger.L().Named("push").With(zap.String("url", url)),
	}
}

// Connected reports whether the channel is currently open
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Run dials the push channel and dispatches events until ctx is done
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.session(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn("push channel error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}

		timer := time.NewTimer(l.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session handles one connection from dial to disconnect
func (l *Listener) session(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	l.connected.Store(true)
	l.log.Info("push channel connected")

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		conn.Close()
		l.connected.Store(false)
		l.log.Info("push channel disconnected")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		ev, err := Decode(raw)
		if err != nil {
			l.log.Warn("skipping push frame", zap.Error(err), zap.ByteString("frame", raw))
			continue
		}
		l.log.Debug("push event",
			zap.String("event", string(ev.Type)),
			zap.String("task_id", ev.TaskID),
			zap.Float64("progress", ev.Progress),
		)
		l.handle(ctx, ev)
	}
}
