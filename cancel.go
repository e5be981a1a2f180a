package corering

import (
	"errors"
	"syscall"

	iouring "github.com/behrlich/go-iouring"
)

// cancelJob submits an async-cancel SQE targeting the job previously
// registered under targetUD. Interprets ENOENT ("already completed") and
// EALREADY ("cancellation already in flight") as benign no-ops per
// SPEC_FULL.md §5; any other result is logged and otherwise ignored, since
// cancellation is advisory — the original operation's own completion is
// what ultimately resolves the fiber.
func (s *Scheduler) cancelJob(targetUD uint64) {
	if _, stillLive := s.jobs[targetUD]; !stillLive {
		return // completed before the cancel callback reached the loop
	}
	s.metrics.incCancel()
	j := &job{kind: jobNonCancellable}
	s.registerJob(j)
	j.onComplete = func(res int32, _ uint32) {
		if res >= 0 {
			return
		}
		switch syscall.Errno(-res) {
		case syscall.ENOENT, syscall.EALREADY:
			return
		default:
			s.log.Log(LogEntry{
				Level:    LevelWarn,
				Category: "cancel",
				Message:  "async-cancel returned unexpected error",
				Err:      iouring.ResultError(res),
			})
		}
	}

	var attempt func()
	attempt = func() {
		err := s.ring.PrepCancel(targetUD, 0, j.userData)
		if err == nil {
			return
		}
		if errors.Is(err, iouring.ErrSQFull) {
			s.pending = append(s.pending, attempt)
			return
		}
		delete(s.jobs, j.userData)
		s.inFlight--
	}
	attempt()
}
