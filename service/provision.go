package service

import (
	"fmt"

	"github.com/bitfsorg/libsbe-go/config"
	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/recipient"
	"github.com/bitfsorg/libsbe-go/store"
)

// RecordFor builds the State record a treasury definition describes.
func RecordFor(t *config.Treasury) (*engine.State, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: treasury definition", ErrNilParam)
	}
	addr, err := recipient.ParseAddress(t.TreasuryAddress)
	if err != nil {
		return nil, fmt.Errorf("service: %s treasury address: %w", t.Name, err)
	}
	var pkh [engine.TreasuryLen]byte
	copy(pkh[:], addr.PKH)

	sc := t.Schedule
	st := engine.NewState(t.AuthorityBytes(), pkh, sc.MinIntervalSeconds, sc.MinAccumulated,
		sc.BuybackBPS, sc.LPBPS, sc.DistributionBPS, t.Bump)
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}

// Provision creates the record for t if it does not exist yet. An existing
// record is left untouched and store.ErrStateExists is returned with its key.
func Provision(s store.StateStore, t *config.Treasury) (store.Key, error) {
	st, err := RecordFor(t)
	if err != nil {
		return store.Key{}, err
	}
	key := store.KeyOf(st)
	if err := s.Create(key, st); err != nil {
		return key, err
	}
	return key, nil
}
