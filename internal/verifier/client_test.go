package verifier

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-access/internal/imageprocessor"
	"github.com/example/face-access/internal/logging"
)

type fakeVerifier struct {
	status int
	body   string

	mu       sync.Mutex
	requests []Request
}

func (f *fakeVerifier) received() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *fakeVerifier) server(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST(VerifyPath, func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		c.Data(f.status, "application/json", []byte(f.body))
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func burst(n int) []imageprocessor.EncodedImage {
	frames := make([]imageprocessor.EncodedImage, n)
	for i := range frames {
		data := []byte{byte('a' + i)}
		frames[i] = imageprocessor.EncodedImage{Data: data, Format: imageprocessor.FormatJPEG, SizeHint: 1}
	}
	return frames
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(url+"/", time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func TestVerifySendsWholeBurstInOrder(t *testing.T) {
	fake := &fakeVerifier{status: http.StatusOK, body: `{"verified":true,"liveness":true,"confidence":92,"user":{"name":"Ana"}}`}
	srv := fake.server(t)

	outcome := newTestClient(t, srv.URL).Verify(context.Background(), "sess-1", burst(5))

	requests := fake.received()
	if len(requests) != 1 {
		t.Fatalf("expected a single request, got %d", len(requests))
	}
	images := requests[0].Images
	if len(images) != 5 {
		t.Fatalf("expected 5 images, got %d", len(images))
	}
	for i, img := range images {
		raw, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			t.Fatalf("image %d is not base64: %v", i, err)
		}
		if raw[0] != byte('a'+i) {
			t.Fatalf("image %d out of order: %q", i, raw)
		}
	}
	if outcome.Kind != KindVerified || outcome.UserName != "Ana" || outcome.Confidence != 92 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestVerifyClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Kind
	}{
		{"liveness failure wins over match", `{"verified":true,"liveness":false}`, KindLivenessFailed},
		{"liveness failure without match", `{"verified":false,"liveness":false,"message":"no movement"}`, KindLivenessFailed},
		{"live but unknown", `{"verified":false,"liveness":true}`, KindNotRecognized},
		{"missing flags", `{"message":"Nenhum rosto"}`, KindTransportError},
		{"verified without user", `{"verified":true,"liveness":true,"confidence":80}`, KindTransportError},
		{"garbage body", `not json`, KindTransportError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeVerifier{status: http.StatusOK, body: tc.body}
			srv := fake.server(t)
			outcome := newTestClient(t, srv.URL).Verify(context.Background(), "sess", burst(5))
			if outcome.Kind != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, outcome)
			}
			if tc.want != KindVerified && outcome.Confidence != 0 {
				t.Fatalf("confidence leaked into %s outcome", outcome.Kind)
			}
		})
	}
}

func TestVerifyTreatsErrorStatusAsTransport(t *testing.T) {
	fake := &fakeVerifier{status: http.StatusNotFound, body: `{"detail":"Nenhum usuário cadastrado"}`}
	srv := fake.server(t)

	outcome := newTestClient(t, srv.URL).Verify(context.Background(), "sess", burst(5))
	if outcome.Kind != KindTransportError {
		t.Fatalf("expected transport error, got %+v", outcome)
	}
	var statusErr *StatusError
	if !errors.As(outcome.Err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", outcome.Err)
	}
	if IsTransient(outcome.Err) {
		t.Fatal("4xx should not be transient")
	}
}

func TestVerifyConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	outcome := newTestClient(t, url).Verify(context.Background(), "sess-9", burst(5))
	if outcome.Kind != KindTransportError {
		t.Fatalf("expected transport error, got %+v", outcome)
	}
	var opErr *logging.OperationError
	if !errors.As(outcome.Err, &opErr) || opErr.SessionID != "sess-9" {
		t.Fatalf("expected OperationError for session, got %v", outcome.Err)
	}
}

func TestVerifyRejectsEmptyBatchWithoutCall(t *testing.T) {
	fake := &fakeVerifier{status: http.StatusOK, body: `{}`}
	srv := fake.server(t)

	outcome := newTestClient(t, srv.URL).Verify(context.Background(), "sess", nil)
	if !errors.Is(outcome.Err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", outcome.Err)
	}
	if got := len(fake.received()); got != 0 {
		t.Fatalf("expected no request, got %d", got)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("  ", time.Second, zap.NewNop()); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("expected ErrMissingBaseURL, got %v", err)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

func TestIsTransient(t *testing.T) {
	if !IsTransient(timeoutError{}) {
		t.Fatal("timeouts should be transient")
	}
	if !IsTransient(&StatusError{Code: http.StatusBadGateway}) {
		t.Fatal("5xx should be transient")
	}
	if IsTransient(errors.New("connection refused")) || IsTransient(nil) {
		t.Fatal("plain errors should not be transient")
	}
	if !IsTransient(logging.NewOperationError("op", "", context.DeadlineExceeded)) {
		t.Fatal("wrapped deadline should be transient")
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 400, Body: "too few frames"}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("unexpected message: %s", err)
	}
}
