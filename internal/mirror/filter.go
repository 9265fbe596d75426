package mirror

import (
	"log/slog"
	"path"
	"sort"

	"github.com/steakknife/rubygems-mirror/internal/gem"
)

// applyPackageFilters drops excluded gems and old versions. Without
// filters ids is returned unchanged, so the mirror stays complete.
func applyPackageFilters(mirrorID string, filters *PackageFilters, ids []gem.PackageIdentity) []gem.PackageIdentity {
	if filters == nil || (filters.KeepVersions == 0 && len(filters.ExcludePatterns) == 0) {
		return ids
	}

	type group struct {
		name     string
		platform string
	}
	groups := make(map[group][]gem.PackageIdentity)
	var order []group
	excluded := 0

	for _, id := range ids {
		if shouldExclude(filters.ExcludePatterns, id) {
			slog.Debug("excluding package by pattern", "repo", mirrorID, "package", id.String())
			excluded++
			continue
		}
		g := group{id.Name, id.Platform}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], id)
	}

	kept := make([]gem.PackageIdentity, 0, len(ids)-excluded)
	for _, g := range order {
		versions := groups[g]
		if filters.KeepVersions > 0 && filters.KeepVersions < len(versions) {
			sortNewestFirst(versions)
			slog.Debug("filtered package versions", "repo", mirrorID,
				"package", g.name, "platform", g.platform,
				"total_versions", len(versions), "kept_versions", filters.KeepVersions)
			versions = versions[:filters.KeepVersions]
		}
		kept = append(kept, versions...)
	}

	slog.Info("package filtering complete", "repo", mirrorID,
		"total_packages", len(ids), "kept_packages", len(kept),
		"filtered_out", len(ids)-len(kept))
	return kept
}

func shouldExclude(patterns []string, id gem.PackageIdentity) bool {
	for _, pattern := range patterns {
		for _, s := range []string{id.Name, id.Version, id.String()} {
			if matched, _ := path.Match(pattern, s); matched {
				return true
			}
		}
	}
	return false
}

// sortNewestFirst orders versions in descending Gem::Version order.
func sortNewestFirst(ids []gem.PackageIdentity) {
	sort.SliceStable(ids, func(i, j int) bool {
		return gem.CompareVersions(ids[i].Version, ids[j].Version) > 0
	})
}
