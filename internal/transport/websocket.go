package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/tutorlive/internal/audio"
	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
	"github.com/coder/websocket"
)

const wsReadLimit = 4 << 20

// WebSocketConfig configures the WebSocket connector.
type WebSocketConfig struct {
	// URL is the engine's realtime WebSocket endpoint.
	URL        string
	HTTPClient *http.Client
	Media      Media
	Logger     *slog.Logger
}

// WebSocketConnector carries control events and base64 audio over a single
// WebSocket.
type WebSocketConnector struct {
	cfg WebSocketConfig
}

// NewWebSocketConnector creates a WebSocket connector.
func NewWebSocketConnector(cfg WebSocketConfig) *WebSocketConnector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebSocketConnector{cfg: cfg}
}

// Connect dials the engine and starts the read and capture loops.
func (c *WebSocketConnector) Connect(ctx context.Context, cred *domain.Credential) (Connection, error) {
	if cred == nil || cred.Token == "" {
		return nil, stageErr(StageSignaling, errors.New("missing credential"))
	}

	src, err := c.cfg.Media.source(ctx, func() audio.Source { return audio.NewPCMSilence(24000) })
	if err != nil {
		return nil, err
	}

	target, err := withModel(c.cfg.URL, cred.Model)
	if err != nil {
		_ = src.Close()
		return nil, stageErr(StageSignaling, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	header.Set("OpenAI-Beta", "realtime=v1")
	ws, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: c.cfg.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		_ = src.Close()
		return nil, stageErr(StageSignaling, err)
	}
	ws.SetReadLimit(wsReadLimit)

	loopCtx, cancel := context.WithCancel(context.Background())
	conn := &wsConnection{
		session: newSession(c.cfg.Media.sink(), c.cfg.Media.PlayerQueue, c.cfg.Logger),
		ws:      ws,
		source:  src,
		cancel:  cancel,
	}
	conn.wg.Add(2)
	go conn.readLoop(loopCtx)
	go conn.captureLoop(loopCtx)

	c.cfg.Logger.Info("[TRANSPORT] WebSocket connected", "model", cred.Model)
	return conn, nil
}

type wsConnection struct {
	*session
	ws     *websocket.Conn
	source audio.Source
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func (c *wsConnection) Send(ctx context.Context, ev realtime.ClientEvent) error {
	if c.isClosed() {
		return ErrClosed
	}
	data, err := realtime.Encode(ev)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		if c.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("send %s: %w", ev.ClientEventType(), err)
	}
	return nil
}

func (c *wsConnection) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.stop()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				c.logger.Warn("[TRANSPORT] WebSocket read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		c.deliver(data)
	}
}

func (c *wsConnection) captureLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		frame, err := c.source.NextFrame(ctx)
		if err != nil {
			return
		}
		if !c.capture.Open() {
			continue
		}
		if err := c.Send(ctx, realtime.AppendAudio(frame.Data)); err != nil {
			if !errors.Is(err, ErrClosed) && ctx.Err() == nil {
				c.logger.Debug("[TRANSPORT] Audio append failed", "error", err)
			}
			return
		}
	}
}

func (c *wsConnection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.stop()
		if err := c.ws.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
			c.logger.Debug("[TRANSPORT] WebSocket close", "error", err)
		}
		if err := c.source.Close(); err != nil {
			c.logger.Debug("[TRANSPORT] Capture close failed", "error", err)
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.logger.Warn("[TRANSPORT] WebSocket loops did not stop in time")
		}
	})
	return nil
}

func withModel(raw, model string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse engine url: %w", err)
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
