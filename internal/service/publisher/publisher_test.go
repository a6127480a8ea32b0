package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   Kind
	}{
		{http.StatusUnauthorized, `{"detail":"Unauthorized"}`, KindAuthExpired},
		{http.StatusForbidden, `{"message":"token revoked"}`, KindAuthExpired},
		{http.StatusTooManyRequests, `{"title":"Too Many Requests"}`, KindRateLimited},
		{http.StatusBadRequest, `{"detail":"text is too long"}`, KindPayloadRejected},
		{http.StatusUnprocessableEntity, `not json`, KindPayloadRejected},
		{http.StatusBadGateway, ``, KindNetworkError},
		{http.StatusServiceUnavailable, `<html>down</html>`, KindNetworkError},
		{http.StatusFound, ``, KindUnknownPlatformResponse},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			err := ClassifyResponse(resp, []byte(tt.body))
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.status, err.Status)
			assert.Equal(t, tt.body, err.Body)
		})
	}
}

func TestClassifyResponse_Message(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadRequest, Header: http.Header{}}
	err := ClassifyResponse(resp, []byte(`{"detail":"duplicate content"}`))
	assert.Equal(t, "payload_rejected: status 400: duplicate content", err.Error())

	resp = &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"7"}}}
	err = ClassifyResponse(resp, nil)
	assert.Equal(t, 7*time.Second, err.RetryAfter)
	assert.Contains(t, err.Message, "empty response")
}

func TestError_RowMessageKeepsUnknownBody(t *testing.T) {
	err := &Error{Kind: KindUnknownPlatformResponse, Message: "unparseable response", Body: "<html>oops</html>"}
	assert.Equal(t, "unknown_platform_response: unparseable response (body: <html>oops</html>)", err.RowMessage())

	err = NewError(KindAuthExpired, "token expired")
	assert.Equal(t, "auth_expired: token expired", err.RowMessage())
}

func TestAsError(t *testing.T) {
	pubErr := NewError(KindPayloadRejected, "too long")
	wrapped := fmt.Errorf("publish: %w", pubErr)
	assert.Same(t, pubErr, AsError(wrapped))

	assert.Equal(t, KindNetworkError, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindNetworkError, KindOf(errors.New("connection refused")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindRateLimited.Retryable())
	assert.True(t, KindNetworkError.Retryable())
	for _, k := range []Kind{KindAuthExpired, KindPayloadRejected, KindUnknownPlatformResponse, KindCredentialMissing} {
		assert.False(t, k.Retryable(), k)
	}
}

func TestParseCredentials(t *testing.T) {
	creds := ParseCredentials(`{"handle":"alice.bsky.social","app_password":"abcd-efgh"}`)
	assert.Equal(t, "alice.bsky.social", creds.Get(CredHandle))
	assert.NoError(t, creds.Require(CredHandle, CredAppPassword))

	bare := ParseCredentials("  plain-token  ")
	assert.Equal(t, "plain-token", bare.Get(CredAccessToken))

	err := bare.Require(CredAccessToken, CredMemberID)
	require.Error(t, err)
	assert.Equal(t, KindCredentialInvalid, KindOf(err))
	assert.Contains(t, err.Error(), "member_id")
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := NewRetryPolicy(5, time.Second, 5*time.Second)
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

// recordingTimer fires immediately and remembers every wait it was asked for.
type recordingTimer struct {
	waits *[]time.Duration
	c     chan time.Time
}

func (r *recordingTimer) Start(d time.Duration) {
	*r.waits = append(*r.waits, d)
	r.c <- time.Time{}
}

func (r *recordingTimer) Stop() {}

func (r *recordingTimer) C() <-chan time.Time { return r.c }

func newTestPolicy(maxAttempts int, waits *[]time.Duration) RetryPolicy {
	p := NewRetryPolicy(maxAttempts, time.Second, 30*time.Second)
	p.timer = &recordingTimer{waits: waits, c: make(chan time.Time, 1)}
	return p
}

func TestRetryPolicy_RetriesTransientKinds(t *testing.T) {
	var waits []time.Duration
	p := newTestPolicy(3, &waits)

	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewError(KindNetworkError, "connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestRetryPolicy_StopsOnPermanentKind(t *testing.T) {
	var waits []time.Duration
	p := newTestPolicy(3, &waits)

	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return NewError(KindAuthExpired, "token revoked")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestRetryPolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	var waits []time.Duration
	p := newTestPolicy(2, &waits)

	attempts, err := p.Do(context.Background(), func(context.Context) error {
		return &Error{Kind: KindRateLimited, Message: "slow down", RetryAfter: 10 * time.Second}
	})

	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []time.Duration{10 * time.Second}, waits)
}

func TestRetryPolicy_RetryAfterIsCappedAtMaxBackoff(t *testing.T) {
	var waits []time.Duration
	p := newTestPolicy(3, &waits)
	p.MaxBackoff = 5 * time.Second

	_, err := p.Do(context.Background(), func(context.Context) error {
		return &Error{Kind: KindRateLimited, Message: "slow down", RetryAfter: time.Minute}
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, waits)
}

func TestRetryPolicy_SingleAttemptNeverWaits(t *testing.T) {
	var waits []time.Duration
	p := newTestPolicy(1, &waits)

	attempts, err := p.Do(context.Background(), func(context.Context) error {
		return NewError(KindNetworkError, "connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, KindNetworkError, KindOf(err))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, waits)
}

func TestRetryPolicy_StopsWhenContextDone(t *testing.T) {
	p := NewRetryPolicy(5, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	attempts, err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return NewError(KindNetworkError, "timeout")
	})

	require.Error(t, err)
	assert.Equal(t, KindNetworkError, KindOf(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			w.Write([]byte(`{"id":"42"}`))
		case "/garbage":
			w.Write([]byte(`<html>`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	client := BearerClient(context.Background(), server.Client(), "tok-123")

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/ok", nil)
	_, body, err := Send(client, req)
	require.NoError(t, err)
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, DecodeJSON(body, &out))
	assert.Equal(t, "42", out.ID)

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/garbage", nil)
	_, body, err = Send(client, req)
	require.NoError(t, err)
	err = DecodeJSON(body, &out)
	assert.Equal(t, KindUnknownPlatformResponse, KindOf(err))
	assert.Equal(t, "<html>", AsError(err).Body)

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/limited", nil)
	_, _, err = Send(client, req)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestSend_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	_, _, err := Send(http.DefaultClient, req)
	assert.Equal(t, KindNetworkError, KindOf(err))
}

type namedPublisher struct{ name string }

func (p namedPublisher) GetPlatformName() string { return p.name }
func (p namedPublisher) SupportsMedia() bool     { return false }
func (p namedPublisher) Publish(context.Context, PublishContent, Credentials) (*PublishResult, error) {
	return &PublishResult{ExternalPostID: "1"}, nil
}

func TestManager(t *testing.T) {
	m := NewPublishManager(zap.NewNop())
	require.NoError(t, m.RegisterPublisher(namedPublisher{"twitter"}))
	require.NoError(t, m.RegisterPublisher(namedPublisher{"bluesky"}))
	assert.Error(t, m.RegisterPublisher(namedPublisher{"twitter"}))

	p, err := m.GetPublisher("bluesky")
	require.NoError(t, err)
	assert.Equal(t, "bluesky", p.GetPlatformName())

	_, err = m.GetPublisher("mastodon")
	assert.Equal(t, KindUnsupportedPlatform, KindOf(err))

	assert.Equal(t, []string{"bluesky", "twitter"}, m.Platforms())
}
