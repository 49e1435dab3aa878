package engine

// Status is the result kind of one Execute call.
type Status uint8

const (
	// Skipped means the record was cooling down and nothing changed.
	Skipped Status = iota
	// Executed means the cursor advanced and Allocation is populated.
	Executed
)

func (s Status) String() string {
	if s == Executed {
		return "executed"
	}
	return "skipped"
}

// Outcome is returned by Execute.
type Outcome struct {
	Status     Status
	Allocation Allocation // zero when Skipped
}

// Executed reports whether the outcome carries an allocation.
func (o Outcome) Executed() bool { return o.Status == Executed }

// Execute runs one disbursement cycle against s.
//
// An invalid weight configuration fails with ErrInvalidRoutingConfig before
// anything is read or written. An ineligible record yields Skipped with a nil
// error and s untouched. Otherwise treasuryBalance is split by the record's
// weights, LastExecutionTS is set to now and the allocation is returned.
//
// Execute does not move funds. Callers hand the allocation to a disbursement
// layer and persist s with a compare-and-set on the previous LastExecutionTS.
func Execute(s *State, now int64, treasuryBalance uint64) (Outcome, error) {
	if err := s.Validate(); err != nil {
		return Outcome{}, err
	}
	if !IsEligible(s, now, treasuryBalance) {
		return Outcome{Status: Skipped}, nil
	}

	alloc := Allocate(treasuryBalance, s.BuybackBPS, s.LPBPS, s.DistributionBPS)
	s.LastExecutionTS = now

	return Outcome{Status: Executed, Allocation: alloc}, nil
}
