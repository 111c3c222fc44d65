package audit

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// FromBodyField resolves the object id from a top-level field of the JSON
// request body. A JSON array body (bulk create) yields the field of every
// element, joined with ",". An empty body or a missing field resolves to an
// empty id, which is not audited.
func FromBodyField(field, objectType string) ResolverFunc {
	return func(req *Request, _ Params) (string, string, error) {
		id, err := bodyField(req.Body, field)
		if err != nil {
			return "", "", err
		}
		return id, objectType, nil
	}
}

// FromQuery resolves the object id from a query string parameter.
func FromQuery(key, objectType string) ResolverFunc {
	return func(req *Request, _ Params) (string, string, error) {
		if req.Query == nil {
			return "", objectType, nil
		}
		return req.Query.Get(key), objectType, nil
	}
}

// FromParam resolves the object id from the index-th named path segment.
func FromParam(index int, objectType string) ResolverFunc {
	return func(_ *Request, params Params) (string, string, error) {
		return params.At(index), objectType, nil
	}
}

func bodyField(body []byte, field string) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("decode request body: %w", err)
	}

	switch v := payload.(type) {
	case map[string]any:
		return scalarString(v[field]), nil
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id := scalarString(obj[field]); id != "" {
				ids = append(ids, id)
			}
		}
		return strings.Join(ids, ","), nil
	default:
		return "", nil
	}
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return fmt.Sprint(s)
	default:
		return ""
	}
}
