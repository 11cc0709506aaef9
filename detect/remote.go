package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"

	"github.com/jamesainslie/go-detscore/geometry"
	"github.com/jamesainslie/go-detscore/inference"
	"github.com/jamesainslie/go-detscore/labels"
)

// RemoteOption configures a Remote detector.
type RemoteOption func(*remoteConfig)

type remoteConfig struct {
	dialer  *websocket.Dialer
	quality int
}

// WithDialer sets the websocket dialer (default: websocket.DefaultDialer).
func WithDialer(d *websocket.Dialer) RemoteOption {
	return func(c *remoteConfig) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithJPEGQuality sets the quality of frames sent to the server
// (default: 90).
func WithJPEGQuality(q int) RemoteOption {
	return func(c *remoteConfig) {
		if q >= 1 && q <= 100 {
			c.quality = q
		}
	}
}

// remoteResult is one detection in a server reply.
type remoteResult struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

// Remote sends frames to a websocket detection server. Each frame is one
// binary JPEG message answered by one JSON text message listing
// detections as {label, confidence, box: [cx, cy, w, h]}. Calls are
// serialized over a single connection that is redialed after I/O errors.
type Remote struct {
	url     string
	classes *labels.ClassMap
	cfg     remoteConfig

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ Detector = (*Remote)(nil)

// NewRemote returns a detector for the server at serverURL. A bare
// host:port is expanded to ws://host:port/ws; http and https schemes map
// to ws and wss. No connection is made until the first Detect.
func NewRemote(serverURL string, classes *labels.ClassMap, opts ...RemoteOption) (*Remote, error) {
	cfg := remoteConfig{dialer: websocket.DefaultDialer, quality: 90}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := remoteURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Remote{url: u, classes: classes, cfg: cfg}, nil
}

func remoteURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("detect: empty server URL")
	}
	if !strings.Contains(raw, "://") {
		u := url.URL{Scheme: "ws", Host: raw, Path: "/ws"}
		return u.String(), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("detect: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Detect implements Detector.
func (r *Remote) Detect(ctx context.Context, imagePath string) ([]Prediction, error) {
	img, err := inference.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}
	var frame bytes.Buffer
	if err := imaging.Encode(&frame, img, imaging.JPEG, imaging.JPEGQuality(r.cfg.quality)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	reply, err := r.roundTrip(ctx, frame.Bytes())
	if err != nil {
		return nil, err
	}
	return r.parse(reply)
}

func (r *Remote) roundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		conn, _, err := r.cfg.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", r.url, err)
		}
		r.conn = conn
	}
	conn := r.conn

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	// Unblocks the read below when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	reply, err := exchange(conn, frame)
	if err != nil {
		_ = conn.Close()
		r.conn = nil
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return reply, nil
}

func exchange(conn *websocket.Conn, frame []byte) ([]byte, error) {
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, fmt.Errorf("send frame: %w", err)
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read detections: %w", err)
	}
	return reply, nil
}

func (r *Remote) parse(reply []byte) ([]Prediction, error) {
	var results []remoteResult
	if err := json.Unmarshal(reply, &results); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	preds := make([]Prediction, 0, len(results))
	for i, res := range results {
		class, err := r.classes.Resolve(res.Label)
		if err != nil {
			return nil, fmt.Errorf("%w: detection %d: %w", ErrInvalidResponse, i, err)
		}
		if math.IsNaN(res.Confidence) || res.Confidence < 0 || res.Confidence > 1 {
			return nil, fmt.Errorf("%w: detection %d: confidence %v", ErrInvalidResponse, i, res.Confidence)
		}
		if len(res.Box) != 4 {
			return nil, fmt.Errorf("%w: detection %d: box has %d values", ErrInvalidResponse, i, len(res.Box))
		}
		box := geometry.Box{CX: res.Box[0], CY: res.Box[1], W: res.Box[2], H: res.Box[3]}
		if err := box.Validate(); err != nil {
			return nil, fmt.Errorf("%w: detection %d: %v", ErrInvalidResponse, i, err)
		}
		preds = append(preds, Prediction{Class: class, Confidence: res.Confidence, Box: box})
	}
	return preds, nil
}

// Close closes the connection, if any.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := r.conn.Close()
	r.conn = nil
	return err
}
