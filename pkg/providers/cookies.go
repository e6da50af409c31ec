package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ParseCookies decodes a cookie jar secret. Both a JSON object
// ({"name": "value"}), a JSON list of {"name","value"} objects as exported
// by browser extensions, and a "k=v; k2=v2" header string are accepted.
func ParseCookies(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]string{}, nil
	}

	switch raw[0] {
	case '{':
		var jar map[string]string
		if err := json.Unmarshal([]byte(raw), &jar); err != nil {
			return nil, fmt.Errorf("invalid cookie object: %w", err)
		}
		return jar, nil
	case '[':
		var list []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("invalid cookie list: %w", err)
		}
		jar := make(map[string]string, len(list))
		for _, c := range list {
			jar[c.Name] = c.Value
		}
		return jar, nil
	}

	jar := make(map[string]string)
	for _, c := range (&http.Request{Header: http.Header{"Cookie": {raw}}}).Cookies() {
		jar[c.Name] = c.Value
	}
	if len(jar) == 0 {
		return nil, fmt.Errorf("no cookies found in secret")
	}
	return jar, nil
}

// CookieHeader renders a jar as a Cookie header value in stable order.
func CookieHeader(jar map[string]string) string {
	names := make([]string, 0, len(jar))
	for name := range jar {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+jar[name])
	}
	return strings.Join(parts, "; ")
}
