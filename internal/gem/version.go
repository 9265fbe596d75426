package gem

import (
	"regexp"
	"strings"
)

var versionSegment = regexp.MustCompile(`[0-9]+|[A-Za-z]+`)

// segment is one part of a gem version: a number or a prerelease word.
type segment struct {
	num   string // digits without leading zeros, "" for zero
	word  string
	isStr bool
}

func (s segment) zero() bool {
	return !s.isStr && s.num == ""
}

// canonicalSegments splits v the way Gem::Version does and drops the
// trailing zeros of the release part and of the prerelease part.
func canonicalSegments(v string) []segment {
	var release, pre []segment
	for _, part := range versionSegment.FindAllString(v, -1) {
		var s segment
		if part[0] >= '0' && part[0] <= '9' {
			s.num = strings.TrimLeft(part, "0")
		} else {
			s.word = part
			s.isStr = true
		}
		if s.isStr || len(pre) > 0 {
			pre = append(pre, s)
		} else {
			release = append(release, s)
		}
	}
	return append(trimZeros(release), trimZeros(pre)...)
}

func trimZeros(segs []segment) []segment {
	for len(segs) > 0 && segs[len(segs)-1].zero() {
		segs = segs[:len(segs)-1]
	}
	return segs
}

func compareSegment(a, b segment) int {
	switch {
	case a.isStr && !b.isStr:
		return -1
	case !a.isStr && b.isStr:
		return 1
	case a.isStr:
		return strings.Compare(a.word, b.word)
	}
	if len(a.num) != len(b.num) {
		if len(a.num) < len(b.num) {
			return -1
		}
		return 1
	}
	return strings.Compare(a.num, b.num)
}

// CompareVersions orders two gem versions like Gem::Version#<=>. Numeric
// segments compare as numbers of any size, a segment with letters marks
// a prerelease and sorts below any number, and missing segments count
// as zero. It returns -1, 0 or +1.
func CompareVersions(a, b string) int {
	as, bs := canonicalSegments(a), canonicalSegments(b)
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var x, y segment
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}
