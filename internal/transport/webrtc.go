package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/tutorlive/internal/audio"
	"github.com/ashureev/tutorlive/internal/domain"
	"github.com/ashureev/tutorlive/internal/realtime"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	// ControlChannelLabel is the data channel the engine reads events from.
	ControlChannelLabel = "oai-events"

	defaultOpenTimeout = 15 * time.Second
	maxAnswerBytes     = 64 << 10
)

// WebRTCConfig configures the WebRTC connector.
type WebRTCConfig struct {
	// SignalingURL receives the SDP offer and answers with the engine's SDP.
	SignalingURL string
	HTTPClient   *http.Client
	ICEServers   []string
	Media        Media
	// OpenTimeout bounds the wait for the control channel to open.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// WebRTCConnector negotiates a peer connection with one Opus track each way
// and an ordered, reliable data channel for control events.
type WebRTCConnector struct {
	cfg WebRTCConfig
}

// NewWebRTCConnector creates a WebRTC connector.
func NewWebRTCConnector(cfg WebRTCConfig) *WebRTCConnector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	return &WebRTCConnector{cfg: cfg}
}

// Connect acquires capture, exchanges SDP with the engine, and returns once
// the control channel is open.
func (c *WebRTCConnector) Connect(ctx context.Context, cred *domain.Credential) (Connection, error) {
	if cred == nil || cred.Token == "" {
		return nil, stageErr(StageSignaling, errors.New("missing credential"))
	}

	src, err := c.cfg.Media.source(ctx, func() audio.Source { return audio.NewOpusSilence() })
	if err != nil {
		return nil, err
	}

	conn, err := c.negotiate(ctx, cred, src)
	if err != nil {
		return nil, err
	}

	c.cfg.Logger.Info("[TRANSPORT] WebRTC connected", "model", cred.Model)
	return conn, nil
}

// negotiate takes ownership of src; it is closed on every failure path.
func (c *WebRTCConnector) negotiate(ctx context.Context, cred *domain.Credential, src audio.Source) (*rtcConnection, error) {
	var ice []webrtc.ICEServer
	if len(c.cfg.ICEServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: c.cfg.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		_ = src.Close()
		return nil, stageErr(StageSignaling, fmt.Errorf("create peer connection: %w", err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	conn := &rtcConnection{
		session: newSession(c.cfg.Media.sink(), c.cfg.Media.PlayerQueue, c.cfg.Logger),
		pc:      pc,
		source:  src,
		cancel:  cancel,
		opened:  make(chan struct{}),
	}
	fail := func(stage Stage, err error) (*rtcConnection, error) {
		_ = conn.Close()
		return nil, stageErr(stage, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "tutorlive",
	)
	if err != nil {
		return fail(StageMedia, fmt.Errorf("create local track: %w", err))
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fail(StageMedia, fmt.Errorf("add local track: %w", err))
	}
	conn.track = track
	go drainRTCP(sender)

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go conn.playbackLoop(remote)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.cfg.Logger.Info("[TRANSPORT] Peer connection ended", "state", state.String())
			go conn.Close()
		}
	})

	dc, err := pc.CreateDataChannel(ControlChannelLabel, nil)
	if err != nil {
		return fail(StageChannel, fmt.Errorf("create data channel: %w", err))
	}
	conn.dc = dc
	dc.OnOpen(func() { conn.openOnce.Do(func() { close(conn.opened) }) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			conn.deliver(msg.Data)
		}
	})
	dc.OnClose(func() { go conn.Close() })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(StageSignaling, fmt.Errorf("create offer: %w", err))
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(StageSignaling, fmt.Errorf("set local description: %w", err))
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(StageSignaling, ctx.Err())
	}

	answer, err := c.exchange(ctx, cred, pc.LocalDescription().SDP)
	if err != nil {
		return fail(StageSignaling, err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail(StageSignaling, fmt.Errorf("set remote description: %w", err))
	}

	timer := time.NewTimer(c.cfg.OpenTimeout)
	defer timer.Stop()
	select {
	case <-conn.opened:
	case <-conn.done:
		return fail(StageChannel, errors.New("control channel closed before open"))
	case <-timer.C:
		return fail(StageChannel, errors.New("timed out waiting for control channel"))
	case <-ctx.Done():
		return fail(StageChannel, ctx.Err())
	}

	if conn.isClosed() {
		return fail(StageChannel, ErrClosed)
	}
	conn.wg.Add(1)
	go conn.captureLoop(loopCtx)
	return conn, nil
}

// exchange posts the SDP offer and returns the engine's SDP answer.
func (c *WebRTCConnector) exchange(ctx context.Context, cred *domain.Credential, offer string) (string, error) {
	target, err := withModel(c.cfg.SignalingURL, cred.Model)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("build signaling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signaling request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", fmt.Errorf("read signaling response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("signaling rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	answer := string(body)
	if !strings.HasPrefix(answer, "v=") {
		return "", errors.New("signaling response is not an SDP answer")
	}
	return answer, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type rtcConnection struct {
	*session
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	track  *webrtc.TrackLocalStaticSample
	source audio.Source
	cancel context.CancelFunc
	wg     sync.WaitGroup

	opened    chan struct{}
	openOnce  sync.Once
	sendMu    sync.Mutex
	closeOnce sync.Once
}

func (c *rtcConnection) Send(_ context.Context, ev realtime.ClientEvent) error {
	if c.isClosed() {
		return ErrClosed
	}
	data, err := realtime.Encode(ev)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.dc.SendText(string(data)); err != nil {
		if c.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("send %s: %w", ev.ClientEventType(), err)
	}
	return nil
}

// captureLoop feeds the local track. While capture is disabled the track
// carries silence so the RTP clock keeps running.
func (c *rtcConnection) captureLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		frame, err := c.source.NextFrame(ctx)
		if err != nil {
			return
		}
		data := frame.Data
		if !c.capture.Open() {
			data = audio.OpusSilenceFrame
		}
		if err := c.track.WriteSample(pionmedia.Sample{Data: data, Duration: frame.Duration}); err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("[TRANSPORT] Write sample failed", "error", err)
			}
			return
		}
	}
}

func (c *rtcConnection) playbackLoop(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		c.player.Enqueue(pkt.Payload)
	}
}

func (c *rtcConnection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.stop()
		if c.dc != nil {
			if err := c.dc.Close(); err != nil {
				c.logger.Debug("[TRANSPORT] Data channel close", "error", err)
			}
		}
		if err := c.pc.Close(); err != nil {
			c.logger.Debug("[TRANSPORT] Peer connection close", "error", err)
		}
		if err := c.source.Close(); err != nil {
			c.logger.Debug("[TRANSPORT] Capture close failed", "error", err)
		}
		c.wg.Wait()
	})
	return nil
}
