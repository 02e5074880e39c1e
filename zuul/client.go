// Package zuul notifies a Zuul scheduler of gateway events through its
// pagure connection webhook, and looks up the builds it ran.
package zuul

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TopicPullRequestNew = "pull-request.new"

	headerProject   = "x-pagure-project"
	headerSignature = "x-pagure-signature"
)

type Config struct {
	URL        string
	Tenant     string
	Connection string
	Project    string
	Token      string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	attempts   uint
	delay      time.Duration
	log        logrus.FieldLogger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetry sets how many times a webhook is attempted and the initial
// backoff between attempts.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(client *Client) {
		client.attempts = attempts
		client.delay = delay
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(client *Client) {
		client.log = log
	}
}

func New(cfg Config, opts ...Option) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   3,
		delay:      500 * time.Millisecond,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is returned when Zuul answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("zuul returned %d: %s", e.Code, e.Body)
}

// Sign returns the hex HMAC-SHA1 of body keyed with token, as carried in
// the x-pagure-signature header.
func Sign(token string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type payload struct {
	MsgID string `json:"msg_id"`
	Topic string `json:"topic"`
	Msg   any    `json:"msg"`
}

func (c *Client) PayloadURL() string {
	return c.cfg.URL + "/api/connection/" + url.PathEscape(c.cfg.Connection) + "/payload"
}

// BuildPage is the Zuul web page of a build.
func (c *Client) BuildPage(buildUUID string) string {
	return c.cfg.URL + "/t/" + url.PathEscape(c.cfg.Tenant) + "/build/" + url.PathEscape(buildUUID)
}

// SendPayload posts a signed pagure event. Transport errors and 5xx answers
// are retried; any other non-2xx answer fails immediately.
func (c *Client) SendPayload(ctx context.Context, topic string, msg any) error {
	body, err := json.Marshal(payload{MsgID: uuid.NewString(), Topic: topic, Msg: msg})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	signature := Sign(c.cfg.Token, body)
	log := c.log.WithFields(logrus.Fields{"topic": topic, "url": c.PayloadURL()})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PayloadURL(), nil)
	if err != nil {
		return fmt.Errorf("build payload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerProject, c.cfg.Project)
	req.Header.Set(headerSignature, signature)

	send := func() error {
		attempt := req.Clone(ctx)
		attempt.Body = io.NopCloser(bytes.NewReader(body))
		attempt.ContentLength = int64(len(body))

		resp, err := c.httpClient.Do(attempt)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(text))}
		}
		return nil
	}

	err = retry.Do(send,
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("payload delivery failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("send payload: %w", err)
	}
	log.Info("payload delivered")
	return nil
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	return true
}

// PullRequestNew announces a new pull request for job on the master branch.
func (c *Client) PullRequestNew(ctx context.Context, job string) error {
	return c.SendPayload(ctx, TopicPullRequestNew, map[string]any{
		"pullrequest": map[string]any{
			"branch":  "master",
			"id":      job,
			"project": map[string]string{"name": c.cfg.Project},
			"title":   "Trigger event",
		},
	})
}

type build struct {
	UUID string `json:"uuid"`
}

// LatestBuild returns the uuid of the most recent build Zuul ran for ref.
func (c *Client) LatestBuild(ctx context.Context, ref string) (string, bool, error) {
	u := c.cfg.URL + "/api/tenant/" + url.PathEscape(c.cfg.Tenant) + "/builds?" + url.Values{"ref": {ref}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("list builds: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	var builds []build
	if err := json.NewDecoder(resp.Body).Decode(&builds); err != nil {
		return "", false, fmt.Errorf("decode builds: %w", err)
	}
	if len(builds) == 0 {
		return "", false, nil
	}
	return builds[0].UUID, true, nil
}
