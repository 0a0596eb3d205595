// Package version holds build metadata injected with -ldflags.
package version

// Version is the edge worker release. It also versions the cache names
// unless cache.version is set explicitly.
var Version = "0.1.0"

// GitCommit is the commit the binary was built from.
var GitCommit = "unknown"

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = "unknown"
