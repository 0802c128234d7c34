package boundary

// Status is the result vocabulary shared by every Session operation.
// The numeric values are stable and may be compared or persisted
// across a binary boundary.
type Status int

const (
	// Success indicates the operation fully completed this call.
	Success Status = 0

	// WantRead indicates the operation is blocked until more input is
	// available on the underlying transport. The caller must retry the
	// same operation after satisfying the read direction.
	WantRead Status = -1

	// WantWrite indicates the operation is blocked until the underlying
	// transport can accept output. The caller must retry the same
	// operation after satisfying the write direction.
	WantWrite Status = -2

	// Failed indicates an unrecoverable error, including a closed
	// underlying connection. Failed is terminal for the Session: no
	// retry is meaningful and the caller must release it.
	Failed Status = -3
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case WantRead:
		return "WANT_READ"
	case WantWrite:
		return "WANT_WRITE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Blocked reports whether s is one of the retryable blocking statuses.
// Blocking statuses are not errors and must not be logged as errors.
func (s Status) Blocked() bool {
	return s == WantRead || s == WantWrite
}
