// Package version carries the release version of pqtls-bench.
package version

import "fmt"

// Semantic version components.
const (
	// Major is the major version (breaking changes to flags or log formats).
	Major = 0
	// Minor is the minor version (new commands or algorithms).
	Minor = 1
	// Patch is the patch version (bug fixes).
	Patch = 0
	// Label is the optional pre-release label.
	Label = ""
)

// Name is the program name reported by the CLI and the health endpoint.
const Name = "pqtls-bench"

// String returns the full version string.
func String() string {
	v := fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch)
	if Label != "" {
		v += "-" + Label
	}
	return v
}

// Full returns a descriptive version string.
func Full() string {
	return fmt.Sprintf("%s %s", Name, String())
}
