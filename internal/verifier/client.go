// Package verifier talks to the remote liveness+identity service. All frames
// of a burst travel in a single request so the service can reason about
// motion across them.
package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-access/internal/imageprocessor"
	"github.com/example/face-access/internal/logging"
)

// VerifyPath is the liveness endpoint relative to the server base URL.
const VerifyPath = "/api/verify-liveness"

const maxResponseSize = 1 << 20

var (
	ErrEmptyBatch     = errors.New("verifier: empty frame batch")
	ErrMissingFlags   = errors.New("verifier: response lacks verified/liveness flags")
	ErrMissingUser    = errors.New("verifier: verified response lacks user name")
	ErrMissingBaseURL = errors.New("verifier: server base url is required")
)

// StatusError reports a non-2xx answer from the verifier.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("verifier: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("verifier: unexpected status %d: %s", e.Code, e.Body)
}

// Temporary marks server-side failures as worth another attempt.
func (e *StatusError) Temporary() bool { return e.Code >= http.StatusInternalServerError }

// Request is the wire body of a liveness verification.
type Request struct {
	Images []string `json:"images"`
}

// User is the identity record returned on a match.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

// Response is the wire body returned by the verifier.
type Response struct {
	Verified   *bool   `json:"verified"`
	Liveness   *bool   `json:"liveness"`
	Confidence float64 `json:"confidence"`
	User       *User   `json:"user"`
	Message    string  `json:"message"`
}

// Client issues verification requests over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient returns a client for the verifier at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	return &Client{
		endpoint: baseURL + VerifyPath,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.Named("verifier"),
	}, nil
}

// Verify submits the whole burst in capture order and classifies the answer.
// It makes exactly one call and never retries.
func (c *Client) Verify(ctx context.Context, sessionID string, frames []imageprocessor.EncodedImage) Outcome {
	opLogger := logging.WithOperation(c.logger, "verifier.verify", sessionID)
	if len(frames) == 0 {
		return TransportFailure(logging.NewOperationError("verifier.verify", sessionID, ErrEmptyBatch))
	}

	resp, err := c.post(ctx, frames)
	if err != nil {
		wrapped := logging.NewOperationError("verifier.verify", sessionID, err)
		opLogger.Error("verification call failed", zap.Error(wrapped), zap.Int("frames", len(frames)))
		return TransportFailure(wrapped)
	}

	outcome, err := Classify(resp)
	if err != nil {
		wrapped := logging.NewOperationError("verifier.classify", sessionID, err)
		opLogger.Error("malformed verification response", zap.Error(wrapped))
		return TransportFailure(wrapped)
	}
	opLogger.Info("verification classified",
		zap.String("outcome", string(outcome.Kind)),
		zap.String("server_message", outcome.ServerMessage),
	)
	return outcome
}

// Classify maps a decoded response to an outcome. A liveness failure wins over
// a missing identity match so the user is told to move rather than denied.
func Classify(resp *Response) (Outcome, error) {
	if resp == nil || resp.Verified == nil || resp.Liveness == nil {
		return Outcome{}, ErrMissingFlags
	}
	switch {
	case *resp.Verified && *resp.Liveness:
		if resp.User == nil || resp.User.Name == "" {
			return Outcome{}, ErrMissingUser
		}
		out := Verified(resp.User.Name, resp.Confidence)
		out.ServerMessage = resp.Message
		return out, nil
	case !*resp.Liveness:
		return Outcome{Kind: KindLivenessFailed, ServerMessage: resp.Message}, nil
	default:
		return Outcome{Kind: KindNotRecognized, ServerMessage: resp.Message}, nil
	}
}

// EncodeRequest builds the wire body, preserving frame order.
func EncodeRequest(frames []imageprocessor.EncodedImage) Request {
	images := make([]string, len(frames))
	for i, frame := range frames {
		images[i] = base64.StdEncoding.EncodeToString(frame.Data)
	}
	return Request{Images: images}
}

func (c *Client) post(ctx context.Context, frames []imageprocessor.EncodedImage) (*Response, error) {
	body, err := json.Marshal(EncodeRequest(frames))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{Code: httpResp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
