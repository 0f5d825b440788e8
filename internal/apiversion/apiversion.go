// Package apiversion implements the flat API-Version compatibility check
// used by the request pipeline and by collaborator client configuration.
package apiversion

import "golang.org/x/mod/semver"

// Strictness controls what happens when the client's API-Version header is
// absent or does not match the server's configured version.
type Strictness string

const (
	// Warn accepts the request regardless of version mismatch, but the
	// caller should attach a deprecation/warning header to the response.
	Warn Strictness = "warn"
	// Reject refuses the request outright on any mismatch.
	Reject Strictness = "reject"
)

// Outcome describes the result of comparing a requested version against the
// server's configured version.
type Outcome struct {
	Compatible bool
	// Mismatch is true when the versions differ, independent of whether the
	// request is ultimately compatible (Warn mode is always Compatible).
	Mismatch bool
}

// Check compares requested against configured per the configured strictness.
// An empty requested version (header absent) counts as a mismatch like any
// other: Reject refuses it, Warn accepts it with Mismatch set.
func Check(configured, requested string, strictness Strictness) Outcome {
	if requested == configured {
		return Outcome{Compatible: true}
	}
	if strictness == Reject {
		return Outcome{Compatible: false, Mismatch: true}
	}
	return Outcome{Compatible: true, Mismatch: true}
}

// Compatible reports whether a server-side version requirement (e.g. the
// minimum collaborator API version a client integration supports) is
// satisfied by an offered version. Versions formatted as YYYY-MM-DD compare
// lexicographically; anything that parses as semver compares numerically.
// Mirrors the teacher's handlersCompatible/normalizeVersion pair, which did
// the same fallback for UCP payment-handler version negotiation.
func Compatible(required, offered string) bool {
	rv := normalize(required)
	ov := normalize(offered)
	if !semver.IsValid(rv) || !semver.IsValid(ov) {
		return required <= offered
	}
	return semver.Compare(rv, ov) <= 0
}

func normalize(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
