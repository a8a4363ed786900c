package remote

import (
	"fmt"
	"net/url"
	"strings"
)

// OrgCollection is the root collection under which every organization's
// documents live.
const OrgCollection = "organizations"

// Join builds the full document path for rel inside org.
//
//	Join("acme", "rosters/gold") == "organizations/acme/rosters/gold"
func Join(org, rel string) (string, error) {
	if err := validateSegment(org); err != nil {
		return "", fmt.Errorf("%w: organization %q: %v", ErrInvalidPath, org, err)
	}
	if err := ValidateRelative(rel); err != nil {
		return "", err
	}
	return OrgCollection + "/" + org + "/" + rel, nil
}

// ValidateRelative checks that rel is a {collection}/{id} style document path
// (an even number of non-empty segments).
func ValidateRelative(rel string) error {
	segs := strings.Split(rel, "/")
	if len(segs) == 0 || len(segs)%2 != 0 {
		return fmt.Errorf("%w: %q must have an even number of segments", ErrInvalidPath, rel)
	}
	for _, s := range segs {
		if err := validateSegment(s); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPath, rel, err)
		}
	}
	return nil
}

// ValidatePath checks that path is a full organization-scoped document path.
func ValidatePath(path string) error {
	segs := strings.SplitN(path, "/", 3)
	if len(segs) < 3 || segs[0] != OrgCollection {
		return fmt.Errorf("%w: %q is not under %s/{org}/", ErrInvalidPath, path, OrgCollection)
	}
	if err := validateSegment(segs[1]); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidPath, path, err)
	}
	return ValidateRelative(segs[2])
}

// OrgOf returns the organization segment of a full document path.
func OrgOf(path string) string {
	segs := strings.SplitN(path, "/", 3)
	if len(segs) < 2 || segs[0] != OrgCollection {
		return ""
	}
	return segs[1]
}

func validateSegment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("empty segment")
	case s == "." || s == "..":
		return fmt.Errorf("segment %q not allowed", s)
	case strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("segment %q contains a reserved character", s)
	}
	return nil
}

// EscapePath escapes each segment of path for use in a URL path, so ids
// holding characters such as '#', '?' or '%' address their own document.
func EscapePath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// UnescapePath reverses EscapePath.
func UnescapePath(escaped string) (string, error) {
	segs := strings.Split(escaped, "/")
	for i, s := range segs {
		u, err := url.PathUnescape(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidPath, escaped, err)
		}
		segs[i] = u
	}
	return strings.Join(segs, "/"), nil
}
