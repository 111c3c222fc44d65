package middleware

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/services"
	"github.com/blogem/nms-gateway/userctx"
)

// MaxAuditBodyBytes caps how much of a request body is buffered for the
// audit record. Larger bodies are still forwarded in full.
const MaxAuditBodyBytes = 1 << 20

const proxiedRequestKey contextKey = "proxied_request"

// CaptureRequest snapshots every request under mountPath before it is
// proxied: method, URL, API path, query, body and caller identity. The body
// is restored so the proxy forwards it unchanged.
func CaptureRequest(mountPath string) func(http.Handler) http.Handler {
	mountPath = strings.TrimRight(mountPath, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			body, err := captureBody(r)
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("failed to read request body for audit")
			}

			apiPath := strings.TrimPrefix(r.URL.Path, mountPath)
			if apiPath == "" {
				apiPath = "/"
			}

			captured := &services.ProxiedRequest{
				Method:    r.Method,
				URL:       r.URL.RequestURI(),
				Path:      apiPath,
				Query:     r.URL.Query(),
				Body:      body,
				IPAddress: getIPAddress(r),
				RequestID: logging.RequestIDFromContext(ctx),
				UserID:    userctx.GetUserID(ctx),
				UserEmail: userctx.GetUserEmail(ctx),
			}

			next.ServeHTTP(w, r.WithContext(WithProxiedRequest(ctx, captured)))
		})
	}
}

// WithProxiedRequest stores the captured request in ctx.
func WithProxiedRequest(ctx context.Context, req *services.ProxiedRequest) context.Context {
	return context.WithValue(ctx, proxiedRequestKey, req)
}

// ProxiedRequestFromContext returns the request captured by CaptureRequest.
func ProxiedRequestFromContext(ctx context.Context) (*services.ProxiedRequest, bool) {
	req, ok := ctx.Value(proxiedRequestKey).(*services.ProxiedRequest)
	return req, ok && req != nil
}

// captureBody reads up to MaxAuditBodyBytes of the body and rebuilds r.Body
// from what was read followed by the unread remainder.
func captureBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	head, err := io.ReadAll(io.LimitReader(r.Body, MaxAuditBodyBytes))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil {
		return nil, err
	}
	return head, nil
}

// getIPAddress extracts IP address from request, checking X-Forwarded-For first
func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header (proxy/load balancer)
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		// Take first IP if multiple
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	// Check X-Real-IP header
	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	// Fall back to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
