package gh

import "strings"

// IsHTTPUnauthorized returns true if the given error is an HTTP 401 Unauthorized error.
func IsHTTPUnauthorized(err error) bool {
	// This is a bit fragile because it relies on the error message from the
	// GraphQL package. It doesn't export proper error types so we have to check
	// the string.
	return strings.Contains(err.Error(), "status code: 401")
}

// IsStaleHead returns true if GitHub rejected a createCommitOnBranch mutation
// because the branch no longer points to the expectedHeadOid.
func IsStaleHead(err error) bool {
	// Same caveat as above. GitHub reports this as a STALE_DATA error whose
	// message reads "Expected branch to point to "<oid>" but it did not.".
	msg := err.Error()
	return strings.Contains(msg, "Expected branch to point to") ||
		strings.Contains(msg, "STALE_DATA")
}

// isNotFound returns true if GitHub reported that the repository (or
// something else addressed by the query) could not be resolved.
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "Could not resolve to")
}
