// Package version exposes build-time version metadata.
package version

// BlockgenVersion is the semantic version string embedded at build time.
var BlockgenVersion = "0.0.0-src"

// UserAgent is the default User-Agent sent when downloading sources.
func UserAgent() string {
	return "blockgen/" + BlockgenVersion
}

// Set version at compile time with
// go build -ldflags "-X blockgen/pkg/version.BlockgenVersion=1.0.0" -o blockgen
