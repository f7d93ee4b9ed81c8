// Package errors provides the structured error taxonomy of the supervision
// core. Every error carries an ErrorCode and an ErrorCategory so callers can
// tell caller bugs from missing data and from configuration inconsistencies.
//
// # Error Categories
//
//   - Transient: a collaborator (bus, publisher backend) is temporarily unavailable
//   - Permanent: retry will not help (precondition violated, unknown id, bad config)
//   - Internal: runtime state disagrees with configuration, or a recovered panic
//
// # Usage
//
//	err := errors.TagNotFound("tag-42")
//	if errors.Is(err, errors.ErrCodeNotFound) {
//	    // already gone
//	}
//
// A configured fault tag that has no record is an inconsistency, not a miss:
//
//	return errors.WrapWithCode(err, errors.ErrCodeInconsistent, "cascade to fault tag")
//
// Rejected tag updates are not errors; the store reports them as a false
// "applied" result.
package errors
