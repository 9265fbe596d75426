package gem

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// Index documents published at the root of a gem repository.
const (
	SpecsFile           = "specs.4.8"
	PrereleaseSpecsFile = "prerelease_specs.4.8"
)

const versionClass = "Gem::Version"

// DecodeSpecs decodes a specs index document: a marshaled array of
// [name, Gem::Version, platform] tuples. Identities are returned in
// document order.
func DecodeSpecs(r io.Reader) ([]PackageIdentity, error) {
	v, err := NewMarshalDecoder(r).Decode()
	if err != nil {
		return nil, err
	}

	tuples, ok := v.([]any)
	if !ok {
		return nil, errors.Newf("specs: top level is %T, not an array", v)
	}

	ids := make([]PackageIdentity, 0, len(tuples))
	for i, t := range tuples {
		id, err := specTuple(t)
		if err != nil {
			return nil, errors.Wrapf(err, "specs: entry %d", i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func specTuple(t any) (PackageIdentity, error) {
	var id PackageIdentity

	fields, ok := t.([]any)
	if !ok || len(fields) != 3 {
		return id, errors.Newf("expected a 3-tuple, got %T", t)
	}

	name, ok := fields[0].(string)
	if !ok || name == "" {
		return id, errors.Newf("invalid gem name %v", fields[0])
	}
	version, err := versionString(fields[1])
	if err != nil {
		return id, errors.Wrap(err, name)
	}
	platform, err := platformString(fields[2])
	if err != nil {
		return id, errors.Wrap(err, name)
	}

	id.Name = name
	id.Version = version
	id.Platform = platform
	return id, nil
}

func versionString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case *UserObject:
		if v.Class != versionClass {
			break
		}
		// Gem::Version#marshal_dump returns [version]
		if data, ok := v.Data.([]any); ok && len(data) > 0 {
			if s, ok := data[0].(string); ok && s != "" {
				return s, nil
			}
		}
	case *Object:
		if v.Class != versionClass {
			break
		}
		if s, ok := v.Ivars["@version"].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", errors.Newf("invalid version %v", v)
}

// platformString canonicalizes the platform field. nil and "" mean ruby;
// a marshaled Gem::Platform is joined as cpu-os-version.
func platformString(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return PlatformRuby, nil
	case string:
		if v == "" {
			return PlatformRuby, nil
		}
		return v, nil
	case *Object:
		var parts []string
		for _, k := range []string{"@cpu", "@os", "@version"} {
			if s, ok := v.Ivars[k].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return PlatformRuby, nil
		}
		return strings.Join(parts, "-"), nil
	}
	return "", errors.Newf("invalid platform %v", v)
}
