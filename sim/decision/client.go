package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/stacksim/sim"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client calls an HTTP decision service. It implements sim.Decider.
type Client struct {
	endpoint   string
	httpClient *http.Client
	recorder   *Recorder
	logger     logrus.FieldLogger
}

// NewClient creates a client for endpoint. timeout bounds every call on top of the
// caller's context; zero means no extra bound.
func NewClient(endpoint string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WithRecorder makes the client record every exchange into r.
func (c *Client) WithRecorder(r *Recorder) *Client {
	c.recorder = r
	return c
}

// Decide posts the perceptions and returns one command per agent.
func (c *Client) Decide(ctx context.Context, perceptions []sim.Perception) (commands []sim.Command, err error) {
	request := EncodePerceptions(perceptions)
	ex := Exchange{SentAt: time.Now(), Request: request, Status: StatusOK}
	defer func() {
		ex.Latency = time.Since(ex.SentAt)
		if err != nil {
			ex.Status = StatusError
			ex.Error = err.Error()
		} else {
			ex.Response = EncodeCommands(commands)
		}
		if c.recorder != nil {
			c.recorder.Record(ex)
		}
		c.logger.WithFields(logrus.Fields{
			"agents":  len(perceptions),
			"latency": ex.Latency.Round(time.Millisecond),
			"status":  ex.Status,
		}).Debug("decision exchange")
	}()

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrTransport, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	ex.HTTPStatus = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrStatus, resp.StatusCode, truncate(raw, 200))
	}
	return ParseResponse(raw, perceptions)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
