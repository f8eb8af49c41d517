// Package httpvalidate implements the request-validation and CORS
// policy for the HTTP front-end: string length limits,
// control-character rejection, path sandboxing, and a loopback
// /private-IPv4 CORS allow-list.
//
// The policy is fixed: the package has no construction options.
package httpvalidate

import (
	"net"
	"net/http"
	"strings"
	"unicode"

	"github.com/nugget/forge-orchestrator/internal/forgeerr"
)

// MaxStringLength is the hard cap on any single request string field
// (task text, context values, search queries).
const MaxStringLength = 16 * 1024 // 16 KiB

// ValidateString rejects empty, over-length, or control-character-
// bearing strings. Tabs, newlines and carriage returns are allowed in
// free-text fields (task descriptions are often multi-line); all other C0/C1 control
// characters are rejected.
func ValidateString(field, value string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = MaxStringLength
	}
	if value == "" {
		return forgeerr.ValidationError(field + " must not be empty")
	}
	if len(value) > maxLen {
		return forgeerr.ValidationError(field + " exceeds maximum length")
	}
	for _, r := range value {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if unicode.IsControl(r) {
			return forgeerr.ValidationError(field + " contains a control character")
		}
	}
	return nil
}

// ValidateContext validates every key/value pair of a task's
// structured context map against the same string rules.
func ValidateContext(context map[string]string) error {
	for k, v := range context {
		if err := ValidateString("context key", k, 256); err != nil {
			return err
		}
		if err := ValidateString("context["+k+"]", v, MaxStringLength); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePath sandboxes a caller-supplied path fragment (e.g. a
// persona id used to build a file path) to a single path element with
// no traversal sequences or separators.
func ValidatePath(field, value string) error {
	if value == "" {
		return forgeerr.ValidationError(field + " must not be empty")
	}
	if strings.ContainsAny(value, "/\\") {
		return forgeerr.ValidationError(field + " must not contain a path separator")
	}
	if value == "." || value == ".." || strings.Contains(value, "..") {
		return forgeerr.ValidationError(field + " must not contain a traversal sequence")
	}
	return nil
}

// privateRanges are the IPv4 ranges the CORS allow-list admits:
// loopback plus RFC 1918 private space, covering the typical "browser
// UI served from the same machine or LAN" deployment this engine
// targets.
var privateRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			panic("httpvalidate: invalid CIDR literal " + c)
		}
		out = append(out, ipnet)
	}
	return out
}

// OriginAllowed reports whether origin's host resolves to a loopback
// or private IPv4 address. Non-IP hostnames (e.g. a LAN DNS name) are
// rejected — the allow-list is address-based only.
func OriginAllowed(origin string) bool {
	host := hostFromOrigin(origin)
	if host == "" {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, r := range privateRanges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

func hostFromOrigin(origin string) string {
	rest := origin
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, ":"); i >= 0 && !strings.Contains(rest, "]") {
		rest = rest[:i]
	}
	rest = strings.TrimPrefix(rest, "[")
	rest = strings.TrimSuffix(rest, "]")
	return rest
}

// CORSMiddleware sets Access-Control-Allow-Origin for allow-listed
// origins and handles OPTIONS preflight requests. Requests from a
// disallowed origin are handled normally but without CORS headers,
// so same-origin/non-browser callers are unaffected.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && OriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
