package rest

import (
	"strings"
)

// BucketKeyFunc derives the local bucket key for a request. Requests with
// equal keys share one FIFO worker and one rate-limit entry until the
// service reports its own bucket id.
type BucketKeyFunc func(method, route string) string

// majorResources keep their id in the key; the service limits them
// independently per resource.
var majorResources = map[string]bool{
	"channels": true,
	"guilds":   true,
	"webhooks": true,
}

// DefaultBucketKey keeps major parameters (channel, guild, webhook id and
// webhook token) and replaces every other id segment with ":id". Query
// strings are ignored.
func DefaultBucketKey(method, route string) string {
	return strings.ToUpper(method) + " " + normalizeRoute(route)
}

func normalizeRoute(route string) string {
	parts := routeParts(route)
	reactions := -1
	for i, p := range parts {
		switch {
		case i == 1 && majorResources[parts[0]]:
			// major id kept
		case i == 2 && parts[0] == "webhooks":
			// webhook token kept
		case reactions >= 0 && i == reactions+1:
			parts[i] = ":emoji"
		case p == "@me":
		case isID(p):
			parts[i] = ":id"
		}
		if p == "reactions" && reactions < 0 {
			reactions = i
		}
	}
	return "/" + strings.Join(parts, "/")
}

func routeParts(route string) []string {
	if i := strings.IndexByte(route, '?'); i >= 0 {
		route = route[:i]
	}
	return strings.Split(strings.Trim(route, "/"), "/")
}

// majorParameter returns the "resource/id" prefix that distinguishes
// buckets sharing one service-side hash, or "" for routes without one.
func majorParameter(route string) string {
	parts := routeParts(route)
	if len(parts) < 2 || !majorResources[parts[0]] {
		return ""
	}
	if parts[0] == "webhooks" && len(parts) >= 3 {
		return strings.Join(parts[:3], "/")
	}
	return parts[0] + "/" + parts[1]
}

func isID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
