package middleware

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// CanonicalPath cleans the request path below mountPath so that "//", "/./"
// and ".." segments cannot disguise the network or object a request names.
// It must run before NetworkAccess and CaptureRequest; the proxy forwards
// the cleaned path. Percent-encoded octets such as %2F are kept as sent.
// A path that only decodes to such segments, e.g. through %2E%2E, is
// rejected with 400.
func CanonicalPath(mountPath string) func(http.Handler) http.Handler {
	mountPath = strings.TrimRight(mountPath, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			escaped, ok := strings.CutPrefix(r.URL.EscapedPath(), mountPath)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid request path")
				return
			}

			cleaned := cleanPath(escaped)
			decoded, err := url.PathUnescape(cleaned)
			if err != nil || cleanPath(decoded) != decoded {
				writeError(w, http.StatusBadRequest, "invalid request path")
				return
			}
			if cleaned == escaped {
				next.ServeHTTP(w, r)
				return
			}

			u := *r.URL
			u.Path = mountPath + decoded
			u.RawPath = mountPath + cleaned
			r2 := new(http.Request)
			*r2 = *r
			r2.URL = &u
			next.ServeHTTP(w, r2)
		})
	}
}

// cleanPath is path.Clean on a rooted path that keeps a trailing slash.
func cleanPath(p string) string {
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
