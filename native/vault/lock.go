package vault

import "fmt"

// The processing lock serializes mutually exclusive long-running workflows
// over a single vault. It is encoded directly in (ProcessingState,
// ProcessingSince). A lock older than LockTimeout is considered abandoned:
// callbacks can be lost in a platform outage, so staleness recovery must not
// require external intervention.

// acquireLock takes the lock under the given workflow tag, evicting a stale
// holder if necessary.
func (e *Engine) acquireLock(tag ProcessingState) error {
	v := e.vault
	now := e.sched.Now()
	if v.ProcessingState != ProcessingIdle {
		if now-v.ProcessingSince < LockTimeout {
			return fmt.Errorf("vault busy with %s", v.ProcessingState)
		}
		if e.metrics != nil {
			e.metrics.StaleLockEvicted()
		}
	}
	v.ProcessingState = tag
	v.ProcessingSince = now
	e.observeLock()
	return nil
}

// ensureIdle verifies no live workflow holds the lock without acquiring it.
// Used as a precondition for short synchronous mutations.
func (e *Engine) ensureIdle() error {
	v := e.vault
	if v.ProcessingState == ProcessingIdle {
		return nil
	}
	if e.sched.Now()-v.ProcessingSince >= LockTimeout {
		return nil
	}
	return fmt.Errorf("vault busy with %s", v.ProcessingState)
}

// releaseLock returns the vault to idle. Every workflow's terminal callback
// calls this on both success and failure paths.
func (e *Engine) releaseLock() {
	e.vault.ProcessingState = ProcessingIdle
	e.vault.ProcessingSince = 0
	e.observeLock()
}

func (e *Engine) observeLock() {
	if e.metrics != nil {
		e.metrics.SetProcessingState(uint8(e.vault.ProcessingState))
	}
}
