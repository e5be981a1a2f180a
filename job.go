package corering

// lengthMode selects how a read/write request interprets a short transfer.
type lengthMode uint8

const (
	// lenExactly keeps resubmitting until exactly the requested number of
	// bytes has been transferred, EOF is observed, or an error occurs.
	lenExactly lengthMode = iota
	// lenUpto returns whatever single CQE result the kernel produced.
	lenUpto
)

// jobKind tags the shape of completion handling a CQE's user-data record
// requires (SPEC_FULL.md §3 "I/O job").
type jobKind uint8

const (
	jobGeneric jobKind = iota
	jobReadWrite
	jobNonCancellable
	jobWithCompletionFn
)

// job is the record referenced by an SQE's user_data field. Exactly one
// job is alive per in-flight SQE; the submission layer retains it until
// the matching CQE is dispatched.
type job struct {
	kind jobKind
	task *suspension
	ctx  *FiberContext

	// jobReadWrite fields.
	mode     lengthMode
	fd       int
	buf      []byte
	fixedIdx int
	useFixed bool
	curOff   int
	fileOff  int64
	seekable bool
	write    bool

	// jobWithCompletionFn.
	onComplete func(res int32, flags uint32)

	// cancellation bookkeeping: the user-data tag this job was registered
	// under, so a cancel callback can target it.
	userData uint64
}
