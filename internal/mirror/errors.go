package mirror

import (
	"fmt"
)

// IndexFetchError is a fatal failure to fetch, decompress or decode an
// index document. The session stops before touching any artifact.
type IndexFetchError struct {
	Document string
	Err      error
}

func (e *IndexFetchError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Document, e.Err)
}

func (e *IndexFetchError) Unwrap() error {
	return e.Err
}

// ArtifactFetchError records a gem that could not be fetched. It is not
// fatal; the next run selects the gem again.
type ArtifactFetchError struct {
	Name string
	Err  error
}

func (e *ArtifactFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Name, e.Err)
}

func (e *ArtifactFetchError) Unwrap() error {
	return e.Err
}

// ArtifactDeleteError records a gem that could not be removed.
type ArtifactDeleteError struct {
	Name string
	Err  error
}

func (e *ArtifactDeleteError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.Name, e.Err)
}

func (e *ArtifactDeleteError) Unwrap() error {
	return e.Err
}

// ConfigError is an invalid mirror definition. It is reported before any
// mirror is synchronized.
type ConfigError struct {
	Mirror string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Mirror == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config %s: %v", e.Mirror, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
