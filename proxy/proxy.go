// Package proxy forwards the orchestrator REST API and audits every
// response that comes back through it.
package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blogem/nms-gateway/config"
	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/middleware"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/services"
)

// Proxy is an http.Handler for everything under the mount path.
type Proxy struct {
	mountPath string
	upstream  *url.URL
	audit     services.AuditService
	rp        *httputil.ReverseProxy
}

// New builds a reverse proxy to cfg.UpstreamURL. Requests must pass through
// middleware.CaptureRequest first; responses to requests without a capture
// are forwarded but not audited.
func New(cfg config.ProxyConfig, auditService services.AuditService) (*Proxy, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host are required", cfg.UpstreamURL)
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		mountPath: strings.TrimRight(cfg.MountPath, "/"),
		upstream:  upstream,
		audit:     auditService,
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

// rewrite forwards the path below the mount. RawPath is carried along so
// an encoded "/" inside an id reaches the orchestrator still encoded.
func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL.Path = p.stripMount(pr.In.URL.Path)
	pr.Out.URL.RawPath = p.stripMount(pr.In.URL.EscapedPath())
	pr.SetURL(p.upstream)
	pr.SetXForwarded()

	// Gateway session cookies mean nothing to the orchestrator.
	pr.Out.Header.Del("Cookie")
}

func (p *Proxy) stripMount(path string) string {
	path = strings.TrimPrefix(path, p.mountPath)
	if path == "" {
		return "/"
	}
	return path
}

// modifyResponse audits the request once the upstream status is known. The
// response itself is passed through untouched.
func (p *Proxy) modifyResponse(resp *http.Response) error {
	ctx := resp.Request.Context()
	if captured, ok := middleware.ProxiedRequestFromContext(ctx); ok {
		p.audit.Record(ctx, captured, resp.StatusCode)
	}
	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logging.Ctx(ctx).Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("upstream", p.upstream.Host).
		Msg("orchestrator request failed")

	if captured, ok := middleware.ProxiedRequestFromContext(ctx); ok {
		p.audit.Record(ctx, captured, http.StatusBadGateway)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: "orchestrator unavailable"})
}

func newTransport(cfg config.ProxyConfig) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	if cfg.ClientCert == "" && cfg.CACert == "" {
		return transport, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("CA bundle contains no certificates")
		}
		tlsConfig.RootCAs = pool
	}

	transport.TLSClientConfig = tlsConfig
	return transport, nil
}
