package ratelimit

import "strings"

// Identity holds every caller attribute a key can be derived from.
type Identity struct {
	UserID string
	IP     string
	Route  string
}

// Key returns the bucket key for scope. Exactly one identity source is used,
// in priority order user, ip, route.
func Key(scope string, id Identity) string {
	if userID := strings.TrimSpace(id.UserID); userID != "" {
		return scope + ":user:" + userID
	}
	if ip := strings.TrimSpace(id.IP); ip != "" {
		return scope + ":ip:" + ip
	}
	route := strings.TrimSpace(id.Route)
	if route == "" {
		route = "unknown"
	}
	return scope + ":anon:" + route
}
