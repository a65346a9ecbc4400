// Package version provides build version information.
// Version and Commit are set at build time via ldflags:
// go build -ldflags "-X github.com/Rorqualx/gtranslate-go/pkg/version.Version=1.0.0"
package version

import "runtime"

var (
	// Version is the application version, set at build time.
	Version = "dev"
	// Commit is the VCS revision the binary was built from.
	Commit = ""
)

// Full returns the version string, with the short commit when known.
func Full() string {
	if Commit == "" {
		return Version
	}
	c := Commit
	if len(c) > 7 {
		c = c[:7]
	}
	return Version + "+" + c
}

// GoVersion returns the Go runtime version.
func GoVersion() string {
	return runtime.Version()
}
