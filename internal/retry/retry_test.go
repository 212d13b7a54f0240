package retry

import "testing"

func TestBudget(t *testing.T) {
	tests := []struct {
		name  string
		max   int
		takes int
		want  int // successful takes
	}{
		{name: "within budget", max: 3, takes: 2, want: 2},
		{name: "exactly budget", max: 3, takes: 3, want: 3},
		{name: "over budget", max: 3, takes: 10, want: 3},
		{name: "zero budget", max: 0, takes: 2, want: 0},
		{name: "negative budget", max: -1, takes: 2, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBudget(tt.max)
			got := 0
			for i := 0; i < tt.takes; i++ {
				if b.Take() {
					got++
				}
			}
			if got != tt.want {
				t.Errorf("successful takes = %d, want %d", got, tt.want)
			}
			if b.Used() != tt.want {
				t.Errorf("Used() = %d, want %d", b.Used(), tt.want)
			}
			if tt.takes >= tt.max && b.Remaining() != 0 {
				t.Errorf("Remaining() = %d, want 0", b.Remaining())
			}
		})
	}
}

func TestBudget_StaysExhausted(t *testing.T) {
	b := NewBudget(1)
	if !b.Take() {
		t.Fatal("first Take() = false")
	}
	for i := 0; i < 5; i++ {
		if b.Take() {
			t.Fatalf("Take() after exhaustion returned true on call %d", i)
		}
	}
	if b.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", b.Remaining())
	}
	if b.Max() != 1 {
		t.Errorf("Max() = %d, want 1", b.Max())
	}
}

func TestBudget_Remaining(t *testing.T) {
	b := NewBudget(3)
	for want := 3; want > 0; want-- {
		if got := b.Remaining(); got != want {
			t.Fatalf("Remaining() = %d, want %d", got, want)
		}
		b.Take()
	}
	if got := NewBudget(-2).Remaining(); got != 0 {
		t.Errorf("Remaining() with negative max = %d, want 0", got)
	}
}

func TestTracker_GetOrCreateState(t *testing.T) {
	tr := NewTracker()

	s1 := tr.GetOrCreateState("m1", 3)
	s2 := tr.GetOrCreateState("m1", 99)
	if s1 != s2 {
		t.Error("second call should return the existing state")
	}
	if s1.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", s1.MaxAttempts)
	}
	if tr.GetState("missing") != nil {
		t.Error("GetState() for unknown milestone should be nil")
	}
}

func TestTracker_ShouldRetry(t *testing.T) {
	tr := NewTracker()
	if tr.ShouldRetry("m1") {
		t.Error("ShouldRetry() without state should be false")
	}

	tr.GetOrCreateState("m1", 2)
	if !tr.ShouldRetry("m1") {
		t.Error("fresh milestone should be retryable")
	}

	if n := tr.RecordAttempt("m1"); n != 1 {
		t.Errorf("RecordAttempt() = %d, want 1", n)
	}
	if n := tr.RecordAttempt("m1"); n != 2 {
		t.Errorf("RecordAttempt() = %d, want 2", n)
	}
	if n := tr.RecordAttempt("unknown"); n != 0 {
		t.Errorf("RecordAttempt(unknown) = %d, want 0", n)
	}
	if tr.ShouldRetry("m1") {
		t.Error("milestone at its attempt limit should not be retryable")
	}

	tr.GetOrCreateState("m2", 5)
	tr.Finish("m2", StopNoChanges)
	if tr.ShouldRetry("m2") {
		t.Error("finished milestone should not be retryable")
	}
}

func TestTracker_Finish(t *testing.T) {
	tr := NewTracker()
	tr.GetOrCreateState("m1", 5)
	tr.GetOrCreateState("m2", 5)
	tr.GetOrCreateState("m3", 5)

	tr.Finish("m1", StopVerified)
	tr.Finish("m1", StopBudgetExhausted)
	tr.Finish("m2", StopAttemptsExhausted)

	if s := tr.GetState("m1"); !s.Passed || s.StopReason != StopVerified {
		t.Errorf("m1 = %+v, want passed with first reason kept", s)
	}
	failed := tr.FailedMilestones()
	if len(failed) != 1 || failed[0] != "m2" {
		t.Errorf("FailedMilestones() = %v, want [m2]", failed)
	}
}

func TestTracker_Records(t *testing.T) {
	tr := NewTracker()
	tr.GetOrCreateState("m1", 5)

	tr.RecordUnusable("m1", "no JSON object")
	tr.RecordChangeCount("m1", 2)
	tr.SetLastFailure("m1", "Exit code 1")
	tr.RecordChangeCount("unknown", 7)

	s := tr.GetState("m1")
	if s.Unusable != 1 {
		t.Errorf("Unusable = %d, want 1", s.Unusable)
	}
	if s.LastFailure != "Exit code 1" {
		t.Errorf("LastFailure = %q", s.LastFailure)
	}
	if len(s.ChangeCounts) != 1 || s.ChangeCounts[0] != 2 {
		t.Errorf("ChangeCounts = %v, want [2]", s.ChangeCounts)
	}
}

func TestTracker_StatesOrderAndCopy(t *testing.T) {
	tr := NewTracker()
	for _, id := range []string{"m3", "m1", "m2"} {
		tr.GetOrCreateState(id, 1)
	}
	tr.RecordChangeCount("m3", 1)

	states := tr.States()
	if len(states) != 3 {
		t.Fatalf("len(States()) = %d, want 3", len(states))
	}
	for i, want := range []string{"m3", "m1", "m2"} {
		if states[i].MilestoneID != want {
			t.Errorf("States()[%d] = %s, want %s", i, states[i].MilestoneID, want)
		}
	}

	states[0].ChangeCounts[0] = 42
	if tr.GetState("m3").ChangeCounts[0] != 1 {
		t.Error("States() should return copies")
	}
}
