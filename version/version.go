package version

import (
	"fmt"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// version is injected at build time via -ldflags "-X ...version.version=x.y.z".
var version = "development"

// TickerdeskVersion returns the version of the running build.
func TickerdeskVersion() string {
	return version
}

// Release tags historically carried a `tickerdesk_v1.2.3` shape; the numeric
// core is what gets compared.
var tagPrefixRegexp = regexp.MustCompile(`^[A-Za-z][\w.-]*_`)

// ParseTag parses a release tag into a semantic version. It tolerates an
// optional `name_` prefix and a leading "v". An unparsable tag is a hard
// error, never silently treated as older or newer, so a malformed feed can
// not cause update loops or skipped updates.
func ParseTag(tag string) (*goversion.Version, error) {
	core := strings.TrimSpace(tag)
	core = tagPrefixRegexp.ReplaceAllString(core, "")
	core = strings.TrimPrefix(core, "v")
	if core == "" {
		return nil, fmt.Errorf("empty version tag %q", tag)
	}

	parsed, err := goversion.NewVersion(core)
	if err != nil {
		return nil, fmt.Errorf("unparsable version tag %q: %w", tag, err)
	}
	return parsed, nil
}

// Compare orders two version strings. It returns -1 when a is older than b,
// 0 when they are equal and 1 when a is newer. Either side failing to parse
// fails the comparison as a whole.
func Compare(a, b string) (int, error) {
	av, err := ParseTag(a)
	if err != nil {
		return 0, err
	}
	bv, err := ParseTag(b)
	if err != nil {
		return 0, err
	}
	return av.Compare(bv), nil
}
