package rpcdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/pollloop"
	"github.com/chatgpt-bridge/bridge/internal/uidriver"
)

// serviceMethod is the single RPC every Backend operation is routed
// through; see messages.go for the Envelope/Reply shape.
const serviceMethod = "/bridge.uidriver.v1.UIDriver/Invoke"

// ClientConfig mirrors the teacher's GrpcClientConfig shape: separate
// connect and per-request timeouts plus keepalive tuning.
type ClientConfig struct {
	Addr             string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.KeepaliveTime <= 0 {
		c.KeepaliveTime = 30 * time.Second
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 10 * time.Second
	}
}

// Client implements uidriver.Backend over gRPC.
type Client struct {
	cfg  ClientConfig
	conn *grpc.ClientConn
}

var _ uidriver.Backend = (*Client)(nil)

// Dial connects to the automation helper at cfg.Addr and blocks (bounded
// by cfg.ConnectTimeout) until the connection is ready, mirroring the
// teacher's waitForReady poll-on-connectivity-state pattern.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	cfg.applyDefaults()

	conn, err := grpc.NewClient(cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial ui driver backend: %w", err)
	}

	c := &Client{cfg: cfg, conn: conn}
	if err := c.waitForReady(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) waitForReady(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	c.conn.Connect()
	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !c.conn.WaitForStateChange(connectCtx, state) {
			return bridgeerr.New(bridgeerr.AppNotRunning, "ui driver backend unreachable")
		}
	}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, timeout time.Duration, method string, payload, result any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	env := &Envelope{Method: method, Payload: raw}
	reply := new(Reply)
	if err := c.conn.Invoke(ctx, serviceMethod, env, reply); err != nil {
		return mapGRPCErr(method, err)
	}
	if reply.Error != nil {
		be := bridgeerr.New(bridgeerr.Kind(reply.Error.Kind), reply.Error.Message)
		if reply.Error.RetryAfterS > 0 {
			be = be.WithRetryAfter(reply.Error.RetryAfterS)
		}
		return be
	}
	if result != nil && len(reply.Payload) > 0 {
		return json.Unmarshal(reply.Payload, result)
	}
	return nil
}

func mapGRPCErr(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return bridgeerr.New(bridgeerr.Unknown, err.Error())
	}
	switch st.Code() {
	case codes.Unavailable:
		return bridgeerr.New(bridgeerr.AppNotRunning, fmt.Sprintf("%s: %s", method, st.Message()))
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %s", method, pollloop.ErrScrapeTimeout, st.Message())
	default:
		return bridgeerr.New(bridgeerr.Unknown, fmt.Sprintf("%s: %s", method, st.Message()))
	}
}

func (c *Client) Health(ctx context.Context) (uidriver.Health, error) {
	var res HealthResult
	if err := c.invoke(ctx, c.cfg.RequestTimeout, "Health", struct{}{}, &res); err != nil {
		return uidriver.Health{}, err
	}
	return uidriver.Health{
		OK:            res.OK,
		Accessibility: uidriver.Accessibility(res.Accessibility),
		AppRunning:    res.AppRunning,
		Code:          res.Code,
		Message:       res.Message,
	}, nil
}

func (c *Client) EnsureRunning(ctx context.Context) error {
	return c.invoke(ctx, c.cfg.RequestTimeout, "EnsureRunning", struct{}{}, nil)
}

func (c *Client) EnsureWindowAvailable(ctx context.Context) error {
	return c.invoke(ctx, c.cfg.RequestTimeout, "EnsureWindowAvailable", struct{}{}, nil)
}

func (c *Client) ResetChat(ctx context.Context, strict bool) (bool, error) {
	var res ResetChatResult
	err := c.invoke(ctx, c.cfg.RequestTimeout, "ResetChat", ResetChatPayload{Strict: strict}, &res)
	return res.Performed, err
}

func (c *Client) OpenConversation(ctx context.Context, title string) (bool, error) {
	var res OpenConversationResult
	err := c.invoke(ctx, c.cfg.RequestTimeout, "OpenConversation", OpenConversationPayload{Title: title}, &res)
	return res.Opened, err
}

func (c *Client) AcquireClipboard(ctx context.Context) (func(), error) {
	var res AcquireClipboardResult
	if err := c.invoke(ctx, c.cfg.RequestTimeout, "AcquireClipboard", struct{}{}, &res); err != nil {
		return nil, err
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		_ = c.invoke(releaseCtx, c.cfg.RequestTimeout, "ReleaseClipboard", ReleaseClipboardPayload{LeaseID: res.LeaseID}, nil)
	}
	return release, nil
}

func (c *Client) Paste(ctx context.Context, text string) error {
	return c.invoke(ctx, c.cfg.RequestTimeout, "Paste", PastePayload{Text: text}, nil)
}

func (c *Client) Submit(ctx context.Context) error {
	return c.invoke(ctx, c.cfg.RequestTimeout, "Submit", struct{}{}, nil)
}

func (c *Client) Scrape(ctx context.Context, timeout time.Duration) (string, error) {
	var res ScrapeResult
	// The scrape call's own budget is the caller-supplied timeout, not the
	// client's general RequestTimeout — the poll loop tunes this per
	// iteration with additive backoff.
	err := c.invoke(ctx, timeout, "Scrape", ScrapePayload{TimeoutMS: int(timeout.Milliseconds())}, &res)
	return res.Text, err
}

func (c *Client) GetConversations(ctx context.Context, requestID string) ([]string, error) {
	var res GetConversationsResult
	err := c.invoke(ctx, c.cfg.RequestTimeout, "GetConversations", GetConversationsPayload{RequestID: requestID}, &res)
	return res.Titles, err
}
