/*
Package rubygemsmirror is a tool for mirroring RubyGems repositories.

rubygems-mirror keeps a local directory in sync with a remote gem source:
  - Reads the specs.4.8 and prerelease_specs.4.8 Marshal indexes
  - Fetches missing gems and deletes gems no longer published
  - Concurrent transfers with a bounded worker pool
  - Atomic file writes and per-destination file locking
  - Optional version and pattern filters

The main packages are:

	github.com/steakknife/rubygems-mirror/internal/gem     - gem naming and index decoding
	github.com/steakknife/rubygems-mirror/internal/mirror  - synchronization engine and storage
	github.com/steakknife/rubygems-mirror/cmd/gem-mirror   - Command-line interface
*/
package rubygemsmirror
