package panels

import (
	"fmt"
	"strconv"
	"strings"
)

// Version identifies a panel snapshot as (major, minor).
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func NewVersion(major, minor int) Version {
	return Version{Major: major, Minor: minor}
}

func (v Version) IncrementMinor() Version {
	return Version{Major: v.Major, Minor: v.Minor + 1}
}

func (v Version) IncrementMajor() Version {
	return Version{Major: v.Major + 1, Minor: 0}
}

// Compare orders versions lexicographically on (major, minor).
func (v Version) Compare(other Version) int {
	switch {
	case v.Major < other.Major:
		return -1
	case v.Major > other.Major:
		return 1
	case v.Minor < other.Minor:
		return -1
	case v.Minor > other.Minor:
		return 1
	default:
		return 0
	}
}

func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// ParseVersion parses the "major.minor" form produced by String.
func ParseVersion(raw string) (Version, error) {
	majorRaw, minorRaw, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok {
		return Version{}, fmt.Errorf("invalid version %q", raw)
	}
	major, err := strconv.Atoi(majorRaw)
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("invalid major version %q", raw)
	}
	minor, err := strconv.Atoi(minorRaw)
	if err != nil || minor < 0 {
		return Version{}, fmt.Errorf("invalid minor version %q", raw)
	}
	return Version{Major: major, Minor: minor}, nil
}
