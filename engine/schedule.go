package engine

// Phase is the derived state of a record's execution cursor. It is computed
// on demand and never stored.
type Phase uint8

const (
	// CoolingDown means neither threshold currently holds.
	CoolingDown Phase = iota
	// Eligible means Execute would disburse.
	Eligible
)

func (p Phase) String() string {
	if p == Eligible {
		return "eligible"
	}
	return "cooling-down"
}

// IsEligible reports whether a disbursement window is open: either at least
// MinIntervalSeconds have passed since the last execution, or the treasury
// holds at least MinAccumulated. Both comparisons are inclusive.
//
// A clock that reads earlier than LastExecutionTS never satisfies the time
// term; the balance term still applies.
func IsEligible(s *State, now int64, treasuryBalance uint64) bool {
	return intervalElapsed(s, now) || treasuryBalance >= s.MinAccumulated
}

func intervalElapsed(s *State, now int64) bool {
	if now < s.LastExecutionTS {
		return false
	}
	if s.MinIntervalSeconds <= 0 {
		return true
	}
	// now >= last, so the unsigned difference is exact even when the signed one would overflow.
	elapsed := uint64(now) - uint64(s.LastExecutionTS)
	return elapsed >= uint64(s.MinIntervalSeconds)
}

// PhaseOf returns Eligible or CoolingDown for the given inputs.
func PhaseOf(s *State, now int64, treasuryBalance uint64) Phase {
	if IsEligible(s, now, treasuryBalance) {
		return Eligible
	}
	return CoolingDown
}

// Require is the strict form of IsEligible: it returns ErrScheduleNotSatisfied
// instead of false.
func Require(s *State, now int64, treasuryBalance uint64) error {
	if !IsEligible(s, now, treasuryBalance) {
		return Errorf(ScheduleNotSatisfied, "now=%d last=%d interval=%d balance=%d min=%d",
			now, s.LastExecutionTS, s.MinIntervalSeconds, treasuryBalance, s.MinAccumulated)
	}
	return nil
}
