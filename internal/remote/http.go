package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Wire paths served by the document service.
const (
	DocsPrefix = "/v1/docs/"
	BatchPath  = "/v1/batch"
	ListenPath = "/v1/listen"

	// ClientIDHeader identifies the calling device in server logs.
	ClientIDHeader = "X-Roster-Client"
)

// WireSnapshot is the JSON form of a Snapshot exchanged with the document
// service.
type WireSnapshot struct {
	Path       string    `json:"path"`
	Exists     bool      `json:"exists"`
	Data       Document  `json:"data,omitempty"`
	UpdateTime time.Time `json:"updateTime,omitempty"`
}

// ToWire converts a snapshot for transmission.
func ToWire(s Snapshot) WireSnapshot {
	return WireSnapshot{Path: s.Path, Exists: s.Exists(), Data: s.Data, UpdateTime: s.UpdateTime}
}

// Snapshot converts a received snapshot back.
func (w WireSnapshot) Snapshot() Snapshot {
	s := Snapshot{Path: w.Path, UpdateTime: w.UpdateTime}
	if w.Exists {
		s.Data = w.Data
		if s.Data == nil {
			s.Data = Document{}
		}
	}
	return s
}

// BatchRequest is the body of a batch write.
type BatchRequest struct {
	Writes map[string]Document `json:"writes"`
}

// HTTPOptions configures an HTTPBackend.
type HTTPOptions struct {
	// BaseURL of the document service, e.g. http://localhost:8420.
	BaseURL string
	// HTTPClient used for REST calls. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// Logger for subscription activity.
	Logger *log.Logger
	// MaxReconnectInterval caps the backoff between subscription reconnects.
	MaxReconnectInterval time.Duration
}

// HTTPBackend is a Backend that talks to the document service.
type HTTPBackend struct {
	base     *url.URL
	client   *http.Client
	logger   *log.Logger
	clientID string
	maxWait  time.Duration
}

// NewHTTPBackend creates a client of the document service at opts.BaseURL.
func NewHTTPBackend(opts HTTPOptions) (*HTTPBackend, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	if opts.MaxReconnectInterval <= 0 {
		opts.MaxReconnectInterval = 30 * time.Second
	}
	return &HTTPBackend{
		base:     base,
		client:   opts.HTTPClient,
		logger:   opts.Logger,
		clientID: uuid.NewString(),
		maxWait:  opts.MaxReconnectInterval,
	}, nil
}

func (h *HTTPBackend) docURL(path string) string {
	return h.base.String() + DocsPrefix + EscapePath(path)
}

func (h *HTTPBackend) do(ctx context.Context, method, target string, body any, header http.Header) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(ClientIDHeader, h.clientID)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("document service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
}

// Get implements Backend.Get.
func (h *HTTPBackend) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ValidatePath(path); err != nil {
		return Snapshot{}, err
	}
	resp, err := h.do(ctx, http.MethodGet, h.docURL(path), nil, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Snapshot{Path: path}, nil
	default:
		return Snapshot{}, statusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var w WireSnapshot
	if err := dec.Decode(&w); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return w.Snapshot(), nil
}

// Set implements Backend.Set.
func (h *HTTPBackend) Set(ctx context.Context, path string, data Document) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if data == nil {
		data = Document{}
	}
	resp, err := h.do(ctx, http.MethodPatch, h.docURL(path), data, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Create implements Backend.Create.
func (h *HTTPBackend) Create(ctx context.Context, path string, data Document) (bool, error) {
	if err := ValidatePath(path); err != nil {
		return false, err
	}
	if data == nil {
		data = Document{}
	}
	header := http.Header{"If-None-Match": []string{"*"}}
	resp, err := h.do(ctx, http.MethodPut, h.docURL(path), data, header)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusPreconditionFailed:
		return false, nil
	default:
		return false, statusError(resp)
	}
}

// BatchSet implements Backend.BatchSet.
func (h *HTTPBackend) BatchSet(ctx context.Context, writes map[string]Document) error {
	for path := range writes {
		if err := ValidatePath(path); err != nil {
			return err
		}
	}
	resp, err := h.do(ctx, http.MethodPost, h.base.String()+BatchPath, BatchRequest{Writes: writes}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (h *HTTPBackend) listenURL(path string) string {
	u := *h.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + ListenPath
	u.RawQuery = url.Values{"path": []string{path}}.Encode()
	return u.String()
}

// Subscribe implements Backend.Subscribe.
//
// The WebSocket is dialed in the background. Transport failures are logged
// and the connection is re-established with exponential backoff; the server
// sends the current snapshot on every connect, so no change is lost across a
// reconnect (intermediate states may be coalesced).
func (h *HTTPBackend) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := newSubscriber(fn, cancel)
	go h.listen(subCtx, path, sub)
	return sub, nil
}

func (h *HTTPBackend) listen(ctx context.Context, path string, sub *subscriber) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = h.maxWait
	b.MaxElapsedTime = 0

	target := h.listenURL(path)
	header := http.Header{ClientIDHeader: []string{h.clientID}}

	for {
		conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: header})
		if err == nil {
			b.Reset()
			err = h.readLoop(ctx, conn, sub)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
		if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		h.logger.Printf("WARNING: subscription to %s interrupted: %v (retrying in %v)", path, err, wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (h *HTTPBackend) readLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	conn.SetReadLimit(4 << 20)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var w WireSnapshot
		if err := dec.Decode(&w); err != nil {
			h.logger.Printf("WARNING: dropping malformed snapshot: %v", err)
			continue
		}
		sub.push(w.Snapshot())
	}
}

// Close implements Backend.Close. Subscriptions are cancelled individually.
func (h *HTTPBackend) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
