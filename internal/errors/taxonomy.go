package errors

// Sentinel errors for the CAF writer/reader and packing pipeline. Callers
// match them with errors.Is; wrapping with Wrap/WithStack preserves that.
var (
	// ErrDuplicateMember is returned when AppendBuffer/AppendStream is called
	// twice for the same member path within one container.
	ErrDuplicateMember = New("duplicate member path")

	// ErrEmptyMember is returned for an attempted zero-length member; start_byte
	// would equal end_byte, which the index format forbids.
	ErrEmptyMember = New("member must not be empty")

	// ErrSizeMismatch is returned when AppendStream's source yields a different
	// number of bytes than the declared length.
	ErrSizeMismatch = New("stream byte count does not match declared length")

	// ErrCopyTimeout is returned when draining a stream into the writer exceeds
	// the configured copy deadline.
	ErrCopyTimeout = New("append stream copy deadline exceeded")

	// ErrUseAfterFinalize is returned by any writer operation after Finalize.
	ErrUseAfterFinalize = New("writer used after finalize")

	// ErrIndexNotLoaded is returned by reader operations before LoadIndex.
	ErrIndexNotLoaded = New("index not loaded")

	// ErrUnsupportedVersion is returned when the index's format_version is not
	// the version this reader understands.
	ErrUnsupportedVersion = New("unsupported container format version")

	// ErrCorruptContainer is returned when the footer or index region fails to
	// parse or violates an index invariant.
	ErrCorruptContainer = New("corrupt container")

	// ErrMemberNotFound is returned when a requested member path is absent from
	// a loaded index.
	ErrMemberNotFound = New("member not found")

	// ErrCatalogMiss is returned by a catalog Lookup that finds no record.
	ErrCatalogMiss = New("no catalog record for task/path")

	// ErrValidation covers malformed queue messages and invalid HTTP input.
	ErrValidation = New("validation failed")

	// ErrPutFailed marks a remote blob upload that could not be completed.
	ErrPutFailed = New("container upload failed")

	// ErrIndexInsertFailed marks a catalog insert that could not be completed
	// during batch handoff.
	ErrIndexInsertFailed = New("catalog insert failed")
)
