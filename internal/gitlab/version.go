package gitlab

import (
	"fmt"
	"strconv"
	"strings"
)

// Version describes a GitLab instance release, parsed from the /version
// endpoint (for example "11.2.3-ee" or "13.0.0-pre").
type Version struct {
	// Major, Minor and Patch are the numeric release components.
	Major, Minor, Patch int

	// EE reports whether the instance is an Enterprise Edition, which is
	// the edition that has the approvals API.
	EE bool
}

// ParseVersion parses a GitLab version string. The numeric part must
// have exactly three dot-separated components; the suffix after the
// first "-" (if any) determines the edition.
func ParseVersion(s string) (Version, error) {
	release, _, _ := strings.Cut(s, "-")

	parts := strings.Split(release, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid GitLab version %q: expected major.minor.patch", s)
	}

	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("invalid GitLab version %q: %w", s, err)
		}
		nums[i] = n
	}

	return Version{
		Major: nums[0],
		Minor: nums[1],
		Patch: nums[2],
		// Release candidates carry the edition last ("9.4.0-rc2-ee"),
		// so the edition check looks at the end of the string.
		EE: strings.HasSuffix(s, "-ee"),
	}, nil
}

// String renders the version, including the edition suffix for EE.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.EE {
		s += "-ee"
	}
	return s
}

// AtLeast reports whether the version is >= the given release.
func (v Version) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}
