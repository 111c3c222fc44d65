// Package audit decides which proxied orchestrator requests are audit-worthy
// and which object they touch.
//
// The decision is driven by an ordered table of PathRules. Each rule is
// compiled into its own single-route chi mux so that declaration order, not
// the router's static-before-param preference, decides which rule wins.
package audit

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ErrEmptyPattern is returned when a rule has no path.
var ErrEmptyPattern = errors.New("audit: rule path is empty")

// DefaultPrefixes are the API roots stripped from a path before matching.
// Longer prefixes come first.
var DefaultPrefixes = []string{"/magma/v1", "/magma"}

// Request is the part of an inbound request the resolver looks at.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Target identifies the object a mutation is applied to.
type Target struct {
	ObjectID   string
	ObjectType string
}

// ResolverFunc extracts the target from a request when the path alone is
// not enough (identifier in the body, the query string, or a specific
// path segment).
type ResolverFunc func(req *Request, params Params) (objectID, objectType string, err error)

// PathRule maps a route pattern to an object type, or to a resolver.
//
// Path accepts ":name" segments and chi "{name}" segments, and may end in
// "/*". When Resolver is nil the object id is the "objectId" segment, or the
// last named segment when there is none.
type PathRule struct {
	Path     string
	Type     string
	Resolver ResolverFunc
}

// Params holds the named segments captured by a rule, in pattern order.
type Params struct {
	keys   []string
	values []string
}

// Get returns the value of the named segment, or "".
func (p Params) Get(key string) string {
	for i, k := range p.keys {
		if k == key {
			return p.values[i]
		}
	}
	return ""
}

// At returns the i-th captured segment, or "" when out of range.
func (p Params) At(i int) string {
	if i < 0 || i >= len(p.values) {
		return ""
	}
	return p.values[i]
}

// Len returns the number of captured segments.
func (p Params) Len() int {
	return len(p.values)
}

func (p Params) objectID() string {
	if id := p.Get("objectId"); id != "" {
		return id
	}
	return p.At(len(p.values) - 1)
}

type compiledRule struct {
	PathRule
	mux *chi.Mux
}

func (r *compiledRule) match(path string) (Params, bool) {
	rctx := chi.NewRouteContext()
	if !r.mux.Match(rctx, http.MethodGet, path) {
		return Params{}, false
	}

	var params Params
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		params.keys = append(params.keys, key)
		params.values = append(params.values, rctx.URLParams.Values[i])
	}
	return params, true
}

// Ruleset is a compiled, immutable rule table. It is safe for concurrent use.
type Ruleset struct {
	prefixes []string
	rules    []compiledRule
}

// NewRuleset compiles rules in the given order. When no prefixes are given
// DefaultPrefixes is used.
func NewRuleset(rules []PathRule, prefixes ...string) (*Ruleset, error) {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}

	rs := &Ruleset{
		prefixes: append([]string(nil), prefixes...),
		rules:    make([]compiledRule, 0, len(rules)),
	}
	for _, rule := range rules {
		mux, err := compilePattern(rule.Path)
		if err != nil {
			return nil, err
		}
		if rule.Type == "" && rule.Resolver == nil {
			return nil, fmt.Errorf("audit: rule %q needs a type or a resolver", rule.Path)
		}
		rs.rules = append(rs.rules, compiledRule{PathRule: rule, mux: mux})
	}
	return rs, nil
}

// MustRuleset is NewRuleset for static tables; it panics on a bad rule.
func MustRuleset(rules []PathRule, prefixes ...string) *Ruleset {
	rs, err := NewRuleset(rules, prefixes...)
	if err != nil {
		panic(err)
	}
	return rs
}

// Len returns the number of rules.
func (rs *Ruleset) Len() int {
	return len(rs.rules)
}

// Resolve returns the target of req. matched is false when no rule matches
// the path, or when the matching rule yields an empty id or type. Only the
// first matching rule is consulted. A resolver error is returned as is,
// wrapped with the rule path.
func (rs *Ruleset) Resolve(req *Request) (target Target, matched bool, err error) {
	path := StripPrefix(req.Path, rs.prefixes...)

	for i := range rs.rules {
		rule := &rs.rules[i]
		params, ok := rule.match(path)
		if !ok {
			continue
		}

		if rule.Resolver != nil {
			id, typ, rerr := rule.Resolver(req, params)
			if rerr != nil {
				return Target{}, false, fmt.Errorf("audit: resolver for %s: %w", rule.Path, rerr)
			}
			target = Target{ObjectID: id, ObjectType: typ}
		} else {
			target = Target{ObjectID: params.objectID(), ObjectType: rule.Type}
		}
		return target, target.ObjectID != "" && target.ObjectType != "", nil
	}

	return Target{}, false, nil
}

// StripPrefix returns path without the first matching API prefix and
// without a trailing slash.
func (rs *Ruleset) StripPrefix(path string) string {
	return StripPrefix(path, rs.prefixes...)
}

// StripPrefix removes the first of prefixes that path starts with, at a
// segment boundary, and drops a trailing slash.
func StripPrefix(path string, prefixes ...string) string {
	for _, prefix := range prefixes {
		if path == prefix {
			path = "/"
			break
		}
		if strings.HasPrefix(path, prefix+"/") {
			path = path[len(prefix):]
			break
		}
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}

// compilePattern builds a one-route mux. chi panics on malformed patterns,
// which is turned into an error here.
func compilePattern(pattern string) (mux *chi.Mux, err error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("audit: rule path %q must begin with '/'", pattern)
	}

	defer func() {
		if r := recover(); r != nil {
			mux = nil
			err = fmt.Errorf("audit: invalid rule path %q: %v", pattern, r)
		}
	}()

	mux = chi.NewMux()
	mux.Handle(toChiPattern(pattern), http.NotFoundHandler())
	return mux, nil
}

// toChiPattern rewrites ":name" segments as "{name}".
func toChiPattern(pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			segments[i] = "{" + seg[1:] + "}"
		}
	}
	return strings.Join(segments, "/")
}
