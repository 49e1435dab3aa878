package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StateSize is the length of a serialized State:
// authority(33) + treasury(20) + last_ts(8) + interval(8) + min_accumulated(8)
// + buyback(2) + lp(2) + distribution(2) + bump(1).
const StateSize = 84

// ErrInvalidStateData indicates a serialized record of the wrong length.
var ErrInvalidStateData = errors.New("engine: invalid state data")

// SerializeState encodes s in the fixed-field big-endian layout.
func SerializeState(s *State) []byte {
	buf := make([]byte, StateSize)
	copy(buf[0:33], s.Authority[:])
	copy(buf[33:53], s.Treasury[:])
	binary.BigEndian.PutUint64(buf[53:61], uint64(s.LastExecutionTS))
	binary.BigEndian.PutUint64(buf[61:69], uint64(s.MinIntervalSeconds))
	binary.BigEndian.PutUint64(buf[69:77], s.MinAccumulated)
	binary.BigEndian.PutUint16(buf[77:79], s.BuybackBPS)
	binary.BigEndian.PutUint16(buf[79:81], s.LPBPS)
	binary.BigEndian.PutUint16(buf[81:83], s.DistributionBPS)
	buf[83] = s.Bump
	return buf
}

// DeserializeState decodes a record produced by SerializeState.
func DeserializeState(data []byte) (*State, error) {
	if len(data) != StateSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidStateData, StateSize, len(data))
	}
	s := &State{}
	copy(s.Authority[:], data[0:33])
	copy(s.Treasury[:], data[33:53])
	s.LastExecutionTS = int64(binary.BigEndian.Uint64(data[53:61]))
	s.MinIntervalSeconds = int64(binary.BigEndian.Uint64(data[61:69]))
	s.MinAccumulated = binary.BigEndian.Uint64(data[69:77])
	s.BuybackBPS = binary.BigEndian.Uint16(data[77:79])
	s.LPBPS = binary.BigEndian.Uint16(data[79:81])
	s.DistributionBPS = binary.BigEndian.Uint16(data[81:83])
	s.Bump = data[83]
	return s, nil
}
