package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"callme-notifier/logger"
	"callme-notifier/types"
)

// maxCollapseIDBytes is the APNs limit on apns-collapse-id.
const maxCollapseIDBytes = 64

// deadTokenReasons are the APNs reasons after which a device token is never
// valid again for this topic.
var deadTokenReasons = map[string]bool{
	apns2.ReasonBadDeviceToken:         true,
	apns2.ReasonUnregistered:           true,
	apns2.ReasonDeviceTokenNotForTopic: true,
}

// Pusher delivers one message to one device.
type Pusher interface {
	Deliver(ctx context.Context, msg types.PushMessage, authToken string) types.DeliveryResult
}

// APNsHost picks the gateway for the environment.
func APNsHost(production bool) string {
	if production {
		return apns2.HostProduction
	}
	return apns2.HostDevelopment
}

// NewAPNsHTTPClient returns an HTTP/2-only client; APNs does not speak
// HTTP/1.1.
func NewAPNsHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http2.Transport{},
		Timeout:   timeout,
	}
}

type APNsClientConfig struct {
	Host       string
	Topic      string
	MaxRetries int
	RetryDelay time.Duration
	Expiration time.Duration
}

// APNsClient is the push transport. Each Deliver is one POST per attempt;
// transient failures (429, 5xx, network) are retried MaxRetries times after
// a fixed delay, then dropped.
type APNsClient struct {
	cfg  APNsClientConfig
	http *http.Client
	log  *zap.Logger
	now  func() time.Time
}

func NewAPNsClient(cfg APNsClientConfig, httpClient *http.Client, log *zap.Logger) *APNsClient {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &APNsClient{cfg: cfg, http: httpClient, log: log, now: time.Now}
}

type apnsErrorBody struct {
	Reason string `json:"reason"`
}

func (c *APNsClient) Deliver(ctx context.Context, msg types.PushMessage, authToken string) types.DeliveryResult {
	var res types.DeliveryResult
	for attempt := 0; ; attempt++ {
		res = c.send(ctx, msg, authToken)
		res.Attempts = attempt + 1
		if res.Outcome != types.TransientFailure {
			break
		}
		if attempt >= c.cfg.MaxRetries {
			c.log.Warn("apns transient failure, dropping",
				logger.TokenPrefix(msg.Token),
				zap.Int("status", res.Status),
				zap.String("reason", res.Reason),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err))
			break
		}
		c.log.Warn("apns transient failure, retrying",
			logger.TokenPrefix(msg.Token),
			zap.Int("status", res.Status),
			zap.Duration("delay", c.cfg.RetryDelay))
		if err := sleepCtx(ctx, c.cfg.RetryDelay); err != nil {
			res.Err = err
			break
		}
	}

	switch res.Outcome {
	case types.DeadToken:
		c.log.Warn("apns dead token, will delete", logger.TokenPrefix(msg.Token), zap.String("reason", res.Reason))
	case types.Failed:
		c.log.Error("apns rejected notification",
			logger.TokenPrefix(msg.Token),
			zap.Int("status", res.Status),
			zap.String("reason", res.Reason),
			zap.Error(res.Err))
	}
	return res
}

func (c *APNsClient) send(ctx context.Context, msg types.PushMessage, authToken string) types.DeliveryResult {
	res := types.DeliveryResult{Message: msg}

	body, err := json.Marshal(buildPayload(msg))
	if err != nil {
		res.Outcome, res.Err = types.Failed, fmt.Errorf("marshal payload: %w", err)
		return res
	}

	url := fmt.Sprintf("%s/3/device/%s", c.cfg.Host, msg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		res.Outcome, res.Err = types.Failed, fmt.Errorf("create request: %w", err)
		return res
	}

	req.Header.Set("authorization", "bearer "+authToken)
	req.Header.Set("apns-topic", c.cfg.Topic)
	req.Header.Set("apns-push-type", string(apns2.PushTypeAlert))
	req.Header.Set("apns-priority", strconv.Itoa(apns2.PriorityHigh))
	req.Header.Set("apns-expiration", strconv.FormatInt(c.now().Add(c.cfg.Expiration).Unix(), 10))
	req.Header.Set("apns-id", uuid.NewString())
	if id := collapseID(msg.CollapseID); id != "" {
		req.Header.Set("apns-collapse-id", id)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome, res.Err = types.Failed, ctx.Err()
			return res
		}
		res.Outcome, res.Err = types.TransientFailure, fmt.Errorf("send request: %w", err)
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	res.Status = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		res.Outcome = types.Delivered
		return res
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb apnsErrorBody
	_ = json.Unmarshal(raw, &eb)
	res.Reason = eb.Reason
	res.Outcome = classify(resp.StatusCode, eb.Reason)
	if res.Outcome != types.Delivered {
		res.Err = fmt.Errorf("apns %d: %s", resp.StatusCode, string(raw))
	}
	return res
}

func classify(status int, reason string) types.DeliveryOutcome {
	switch {
	case status == http.StatusOK:
		return types.Delivered
	case deadTokenReasons[reason]:
		return types.DeadToken
	case status == http.StatusTooManyRequests || status >= 500:
		return types.TransientFailure
	default:
		return types.Failed
	}
}

// buildPayload renders {aps:{alert:{title,body},sound,badge}, deepLink}.
func buildPayload(msg types.PushMessage) *payload.Payload {
	p := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		Sound("default").
		Badge(1)
	if msg.DeepLink != "" {
		p.Custom("deepLink", msg.DeepLink)
	}
	return p
}

func collapseID(id string) string {
	if len(id) > maxCollapseIDBytes {
		return id[:maxCollapseIDBytes]
	}
	return id
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
