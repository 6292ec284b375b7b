package vkcore

import (
	"time"

	"github.com/pkg/errors"
)

const (
	minPoll = 50 * time.Microsecond
	maxPoll = 5 * time.Millisecond
)

// WaitForFutures waits for every future when waitAll is set, otherwise for
// the first one to complete. A negative timeout waits forever. The result
// is the first error among the futures waited on, or ErrTimedOut.
func (d *Device) WaitForFutures(waitAll bool, timeout time.Duration, futures ...*Future) error {
	if len(futures) == 0 {
		return nil
	}
	for _, f := range futures {
		if f == nil {
			return errors.Wrap(ErrInvalidRecordingState, "nil future")
		}
		if err := d.owns(f.Device); err != nil {
			return err
		}
	}
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	if waitAll {
		return waitForAll(futures, deadline)
	}
	return waitForAny(futures, deadline)
}

func remaining(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return -1
	}
	if r := time.Until(deadline); r > 0 {
		return r
	}
	return 0
}

func waitForAll(futures []*Future, deadline time.Time) error {
	var first error
	for _, f := range futures {
		var err error
		if r := remaining(deadline); r < 0 {
			err = f.Wait()
		} else {
			err = f.WaitTimeout(r)
		}
		if errors.Is(err, ErrTimedOut) {
			return err
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// waitForAny polls the futures with a growing interval.
func waitForAny(futures []*Future, deadline time.Time) error {
	poll := minPoll
	for {
		for _, f := range futures {
			if f.Done() {
				return f.Err()
			}
		}
		r := remaining(deadline)
		if r == 0 {
			return errors.Wrap(ErrTimedOut, "no future completed")
		}
		if r > 0 && poll > r {
			poll = r
		}
		time.Sleep(poll)
		if poll *= 2; poll > maxPoll {
			poll = maxPoll
		}
	}
}
