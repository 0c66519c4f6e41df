package extension

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseRequest turns a free-form ask ("add hacker news with url https://...")
// into a structured Request. The full text stays as the description; the
// source name comes from an "add <name>" phrase when present, otherwise from
// the URL host.
func ParseRequest(text string) (Request, error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return Request{}, fmt.Errorf("extension request: empty request text")
	}
	req := Request{Description: t}

	fields := strings.Fields(t)
	for _, f := range fields {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			req.URL = strings.Trim(f, ".,;)\"'")
			break
		}
	}

	if len(fields) > 1 {
		switch strings.ToLower(fields[0]) {
		case "add", "register":
			var words []string
			for _, w := range fields[1:] {
				lw := strings.ToLower(w)
				if lw == "with" || lw == "from" || lw == "at" || lw == "using" || strings.HasPrefix(lw, "http") {
					break
				}
				words = append(words, lw)
			}
			req.SourceName = SanitizeSourceName(strings.Join(words, " "))
		}
	}
	if req.SourceName == "" && req.URL != "" {
		req.SourceName = nameFromURL(req.URL)
	}
	if req.SourceName == "" {
		return Request{}, fmt.Errorf("extension request: cannot derive a source name from %q", text)
	}
	return req, nil
}

// SanitizeSourceName reduces a candidate name to registry-safe form:
// lowercase words joined by single dashes.
func SanitizeSourceName(raw string) string {
	var b strings.Builder
	dash := true
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if i := strings.LastIndex(host, "."); i > 0 {
		host = host[:i]
	}
	return SanitizeSourceName(host)
}
