package common

import "strings"

// Component names used for per-component log levels and metrics labels.
const (
	ComponentRegistry   = "abi-registry"
	ComponentStateCache = "state-cache"
	ComponentUpstream   = "upstream"
	ComponentParser     = "event-parser"
	ComponentIngest     = "ingest"
	ComponentHooks      = "hooks"
	ComponentRPC        = "rpc"
	ComponentWatcher    = "watcher"
)

var AllComponents = map[string]struct{}{
	ComponentRegistry:   {},
	ComponentStateCache: {},
	ComponentUpstream:   {},
	ComponentParser:     {},
	ComponentIngest:     {},
	ComponentHooks:      {},
	ComponentRPC:        {},
	ComponentWatcher:    {},
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
