package pipeline

import "github.com/rotisserie/eris"

var (
	// ErrProvenanceUnavailable is returned when the processed-file log
	// cannot be read.
	ErrProvenanceUnavailable = eris.New("pipeline: provenance store unavailable")

	// ErrInvariantViolation marks corrupted dimension state, such as two
	// active versions for one natural key. It aborts the run.
	ErrInvariantViolation = eris.New("pipeline: dimension invariant violated")

	// ErrJoinFanOut is a chunk failure: a join produced more rows than the
	// chunk had.
	ErrJoinFanOut = eris.New("pipeline: join fan-out")

	// ErrKeyCoercion is a chunk failure: a join key could not be brought to
	// its canonical form.
	ErrKeyCoercion = eris.New("pipeline: join key coercion")
)
