package vault

import "testing"

type countingSink struct {
	stateSets      int
	started        []string
	completed      []string
	failed         []string
	refunds        int
	staleEvictions int
}

func (s *countingSink) SetProcessingState(uint8)     { s.stateSets++ }
func (s *countingSink) WorkflowStarted(tag string)   { s.started = append(s.started, tag) }
func (s *countingSink) WorkflowCompleted(tag string) { s.completed = append(s.completed, tag) }
func (s *countingSink) WorkflowFailed(tag string)    { s.failed = append(s.failed, tag) }
func (s *countingSink) RefundRecorded()              { s.refunds++ }
func (s *countingSink) StaleLockEvicted()            { s.staleEvictions++ }

func TestAcquireLockCountsStaleEvictions(t *testing.T) {
	env := newTestEnv(t)
	sink := &countingSink{}
	env.engine.SetMetrics(sink)

	env.fund(near(1))
	if err := env.engine.Delegate(env.ownerCtx(), testVal1, near(1)); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if sink.staleEvictions != 0 {
		t.Fatalf("clean acquire counted as eviction")
	}

	// The callback never resolves; past the timeout the next workflow
	// overwrites the abandoned lock.
	env.sched.AdvanceNow(LockTimeout)
	env.fund(near(1))
	if err := env.engine.Delegate(env.ownerCtx(), testVal2, near(1)); err != nil {
		t.Fatalf("delegate after timeout: %v", err)
	}
	if sink.staleEvictions != 1 {
		t.Fatalf("stale evictions: want 1, got %d", sink.staleEvictions)
	}
	if len(sink.started) != 2 {
		t.Fatalf("workflows started: want 2, got %d", len(sink.started))
	}
}

func TestAcquireLockRejectsLiveHolder(t *testing.T) {
	env := newTestEnv(t)
	sink := &countingSink{}
	env.engine.SetMetrics(sink)

	env.fund(near(1))
	if err := env.engine.Delegate(env.ownerCtx(), testVal1, near(1)); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	env.sched.AdvanceNow(LockTimeout - 1)
	env.fund(near(1))
	if err := env.engine.Delegate(env.ownerCtx(), testVal2, near(1)); err == nil {
		t.Fatal("expected busy error while the lock is live")
	}
	if sink.staleEvictions != 0 {
		t.Fatalf("stale evictions: want 0, got %d", sink.staleEvictions)
	}
}
