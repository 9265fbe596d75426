package gem

import (
	"strings"
)

const (
	// PlatformRuby marks a platform-neutral gem. It is never part of the
	// artifact file name.
	PlatformRuby = "ruby"

	// Extension is the file extension of every gem artifact.
	Extension = ".gem"
)

// PackageIdentity identifies one gem release in a remote index.
type PackageIdentity struct {
	Name     string
	Version  string
	Platform string
}

// Neutral returns true if the gem is not built for a specific platform.
func (id PackageIdentity) Neutral() bool {
	return id.Platform == "" || id.Platform == PlatformRuby
}

// ArtifactName returns the file name of the gem in the "gems" directory,
// e.g. "foo-1.0.gem" or "foo-1.0-java.gem".
func (id PackageIdentity) ArtifactName() string {
	var sb strings.Builder
	sb.Grow(len(id.Name) + len(id.Version) + len(id.Platform) + len(Extension) + 2)
	sb.WriteString(id.Name)
	sb.WriteByte('-')
	sb.WriteString(id.Version)
	if !id.Neutral() {
		sb.WriteByte('-')
		sb.WriteString(id.Platform)
	}
	sb.WriteString(Extension)
	return sb.String()
}

func (id PackageIdentity) String() string {
	return strings.TrimSuffix(id.ArtifactName(), Extension)
}

// IsArtifact returns true if the base name looks like a gem artifact.
func IsArtifact(name string) bool {
	return len(name) > len(Extension) && strings.HasSuffix(name, Extension)
}

// SafeArtifactName returns true if name can be used as a single path
// component below the "gems" directory.
func SafeArtifactName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
