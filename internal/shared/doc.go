// Package shared contains the error taxonomy returned by the public store
// operations, without domain-specific logic.
//
// # Error Types and Classification
//
// Success is a nil error. Failures carry one of these sentinel errors:
//
//   - ErrInvalidArgument: a required input was absent or malformed
//   - ErrNoMatch: a lookup found nothing
//   - ErrOutOfMemory: an allocation could not be satisfied
//   - ErrInternal: engine failure, retry exhaustion or a build mismatch
//   - ErrAccessDenied: the caller may not perform the operation
//   - ErrAlreadyExists: uniqueness violation or already-initialized storage
//
// Use KindOf() to classify errors:
//
//	switch shared.KindOf(err) {
//	case shared.KindAlreadyExists:
//	    // the user is already registered
//	case shared.KindInvalidArgument:
//	    // fix the input
//	default:
//	    // report
//	}
//
// Or the predicate functions:
//
//	if shared.IsAlreadyExists(err) {
//	    // ...
//	}
//
// # Kind Priority Table
//
// When multiple kinds are present (e.g., with errors.Join), KindOf returns the highest priority kind:
//
//	Priority | Kind                | Description
//	---------|---------------------|--------------------
//	1        | KindCanceled        | Context cancellation (highest)
//	2        | KindInvalidArgument | Absent or malformed input
//	3        | KindAlreadyExists   | Uniqueness conflicts
//	4        | KindNoMatch         | Empty lookups
//	5        | KindAccessDenied    | Refused access
//	6        | KindOutOfMemory     | Allocation failures
//	7        | KindInternal        | Engine and internal failures (lowest)
//
// # Error Marking
//
// Engine result codes are translated at the operation boundary while the
// original error stays reachable:
//
//	if sqlite.CodeOf(err) == sqlite.CodeConstraint {
//	    return shared.MarkKind(err, shared.KindAlreadyExists)
//	}
//
//	// Now both work:
//	// shared.IsAlreadyExists(markedErr) == true
//	// sqlite.CodeOf(markedErr) == sqlite.CodeConstraint
//
// # Error Message Style Guide
//
// - Use lowercase messages: "empty database path" not "Empty database path"
// - Avoid punctuation
// - Keep messages composable: they will often be wrapped with additional context
package shared
