package auth

import (
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/rs/zerolog"
)

// Refresh calls run under the refresh lock, so retries stay few and short.
const (
	refreshMaxRetries   = 2
	refreshInitialDelay = 200 * time.Millisecond
	refreshMaxDelay     = time.Second
)

// NewRefreshClient returns the retrying client used for refresh calls. It
// retries network errors, 429 and 5xx answers, and logs through log.
func NewRefreshClient(base http.RoundTripper, log zerolog.Logger) (*retry.Client, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	return retry.NewRealtimeClient(
		retry.WithHTTPClient(&http.Client{Transport: rewindTransport{next: base}}),
		retry.WithMaxRetries(refreshMaxRetries),
		retry.WithInitialRetryDelay(refreshInitialDelay),
		retry.WithMaxRetryDelay(refreshMaxDelay),
		retry.WithJitter(true),
		retry.WithLogger(retryLogger{log: log.With().Str("component", "refresh-client").Logger()}),
	)
}

// rewindTransport sends every attempt with a fresh copy of the body. The
// retry client clones the request per attempt, and a clone shares the body
// the previous attempt already consumed.
type rewindTransport struct {
	next http.RoundTripper
}

func (t rewindTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.GetBody == nil || req.Body == nil || req.Body == http.NoBody {
		return t.next.RoundTrip(req)
	}
	body, err := req.GetBody()
	if err != nil {
		_ = req.Body.Close()
		return nil, err
	}
	_ = req.Body.Close()

	out := req.Clone(req.Context())
	out.Body = body
	return t.next.RoundTrip(out)
}

// retryLogger adapts zerolog to the retry client's key/value logger.
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Debug(msg string, args ...any) { l.log.Debug().Fields(args).Msg(msg) }
func (l retryLogger) Info(msg string, args ...any)  { l.log.Info().Fields(args).Msg(msg) }
func (l retryLogger) Warn(msg string, args ...any)  { l.log.Warn().Fields(args).Msg(msg) }
func (l retryLogger) Error(msg string, args ...any) { l.log.Error().Fields(args).Msg(msg) }
