// Package disburse turns an engine allocation into a signed BSV transaction
// that pays each bucket to its destination.
//
// Treasury inputs fund the buckets and nothing else; miner fees come from a
// separate set of fee inputs so that a full-balance allocation can still be
// paid out. Buckets below DustLimit are not paid and remain in the treasury.
package disburse

import (
	"fmt"
	"math/bits"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/engine"
)

// Bucket names one of the three allocation buckets.
type Bucket int

const (
	Buyback Bucket = iota
	LP
	Distribution
	numBuckets
)

func (b Bucket) String() string {
	switch b {
	case Buyback:
		return "buyback"
	case LP:
		return "lp"
	case Distribution:
		return "distribution"
	default:
		return fmt.Sprintf("bucket(%d)", int(b))
	}
}

// amount returns the bucket's share of a.
func (b Bucket) amount(a engine.Allocation) uint64 {
	switch b {
	case Buyback:
		return a.Buyback
	case LP:
		return a.LP
	default:
		return a.Distribution
	}
}

// Plan describes one disbursement.
type Plan struct {
	Allocation    engine.Allocation
	Destinations  [numBuckets][]byte // 20-byte PKH per bucket, indexed by Bucket
	TreasuryUTXOs []*chain.UTXO
	FeeUTXOs      []*chain.UTXO
	TreasuryPKH   []byte
	FeePKH        []byte
	FeeRate       uint64 // sat/KB; zero uses DefaultFeeRate
	Network       string // address encoding for Payout.Address; empty is mainnet
}

// Payout is one bucket output of a built transaction.
type Payout struct {
	Bucket  Bucket `json:"bucket"`
	Vout    uint32 `json:"vout"`
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

// Result is a built transaction and its accounting.
type Result struct {
	Tx             *transaction.Transaction
	Payouts        []Payout
	Retained       uint64 // bucket satoshis left in the treasury (sub-dust)
	TreasuryChange uint64
	TopUp          uint64 // fee-input satoshis added to lift treasury change to DustLimit
	FeeChange      uint64
	Fee            uint64

	treasuryInputs int
	treasuryPKH    []byte
	feePKH         []byte
}

// TxID returns the transaction ID in display (hex) order.
func (r *Result) TxID() string { return r.Tx.TxID().String() }

// Hex returns the serialized transaction.
func (r *Result) Hex() string { return r.Tx.Hex() }

// Paid returns the sum of all bucket outputs.
func (r *Result) Paid() uint64 {
	var sum uint64
	for _, p := range r.Payouts {
		sum += p.Amount
	}
	return sum
}

func lockingScript(pkh []byte, mainnet bool) (*script.Script, *script.Address, error) {
	if len(pkh) != PKHLen {
		return nil, nil, fmt.Errorf("%w: hash length %d", ErrInvalidPlan, len(pkh))
	}
	addr, err := script.NewAddressFromPublicKeyHash(pkh, mainnet)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: address from hash: %w", ErrScriptBuild, err)
	}
	ls, err := p2pkh.Lock(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: P2PKH lock: %w", ErrScriptBuild, err)
	}
	return ls, addr, nil
}

func sumUTXOs(utxos []*chain.UTXO, label string) (uint64, error) {
	var total, carry uint64
	for i, u := range utxos {
		if u == nil {
			return 0, fmt.Errorf("%w: %s[%d]", ErrNilParam, label, i)
		}
		total, carry = bits.Add64(total, u.Amount, 0)
		if carry != 0 {
			return 0, fmt.Errorf("%w: %s inputs overflow", ErrInvalidPlan, label)
		}
	}
	return total, nil
}

func addInputs(tx *transaction.Transaction, utxos []*chain.UTXO, lock *script.Script) error {
	for _, u := range utxos {
		h, err := chainhash.NewHashFromHex(u.TxID)
		if err != nil {
			return fmt.Errorf("%w: txid %q: %w", ErrInvalidPlan, u.TxID, err)
		}
		tx.AddInput(&transaction.TransactionInput{
			SourceTXID:       h,
			SourceTxOutIndex: u.Vout,
			SequenceNumber:   transaction.DefaultSequenceNumber,
		})
		tx.Inputs[len(tx.Inputs)-1].SetSourceTxOutput(&transaction.TransactionOutput{
			Satoshis:      u.Amount,
			LockingScript: lock,
		})
	}
	return nil
}

// Build constructs the unsigned transaction.
//
// Inputs: treasury UTXOs, then fee UTXOs.
// Outputs: one P2PKH per bucket at or above DustLimit in bucket order, then
// treasury change, then fee change. Treasury change below DustLimit is topped
// up to DustLimit from the fee inputs so that it stays with the treasury.
func Build(plan *Plan) (*Result, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: plan", ErrNilParam)
	}
	mainnet := chain.IsMainnet(plan.Network)
	treasuryLock, _, err := lockingScript(plan.TreasuryPKH, mainnet)
	if err != nil {
		return nil, fmt.Errorf("treasury: %w", err)
	}
	feeLock, _, err := lockingScript(plan.FeePKH, mainnet)
	if err != nil {
		return nil, fmt.Errorf("fee address: %w", err)
	}

	treasuryIn, err := sumUTXOs(plan.TreasuryUTXOs, "treasury")
	if err != nil {
		return nil, err
	}
	feeIn, err := sumUTXOs(plan.FeeUTXOs, "fee")
	if err != nil {
		return nil, err
	}

	res := &Result{
		Tx:             transaction.NewTransaction(),
		treasuryInputs: len(plan.TreasuryUTXOs),
		treasuryPKH:    plan.TreasuryPKH,
		feePKH:         plan.FeePKH,
	}

	var paid uint64
	for b := Buyback; b < numBuckets; b++ {
		amt := b.amount(plan.Allocation)
		if amt < DustLimit {
			res.Retained += amt
			continue
		}
		lock, addr, err := lockingScript(plan.Destinations[b], mainnet)
		if err != nil {
			return nil, fmt.Errorf("%s destination: %w", b, err)
		}
		res.Payouts = append(res.Payouts, Payout{
			Bucket:  b,
			Vout:    uint32(len(res.Tx.Outputs)),
			Amount:  amt,
			Address: addr.AddressString,
		})
		res.Tx.AddOutput(&transaction.TransactionOutput{Satoshis: amt, LockingScript: lock})
		paid += amt // buckets sum to at most the balance, no overflow
	}
	if len(res.Payouts) == 0 {
		return nil, ErrNothingToDisburse
	}
	if treasuryIn < paid {
		return nil, fmt.Errorf("%w: buckets need %d sat, treasury inputs hold %d",
			ErrInsufficientFunds, paid, treasuryIn)
	}

	if err := addInputs(res.Tx, plan.TreasuryUTXOs, treasuryLock); err != nil {
		return nil, err
	}
	if err := addInputs(res.Tx, plan.FeeUTXOs, feeLock); err != nil {
		return nil, err
	}

	if change := treasuryIn - paid; change > 0 {
		res.TreasuryChange = change
		if change < DustLimit {
			res.TopUp = DustLimit - change
			res.TreasuryChange = DustLimit
		}
	}

	numOutputs := len(res.Payouts) + 1 // fee change
	if res.TreasuryChange > 0 {
		numOutputs++
	}
	res.Fee = EstimateFee(EstimateTxSize(len(res.Tx.Inputs), numOutputs), plan.FeeRate)
	if feeIn < res.Fee || feeIn-res.Fee < res.TopUp {
		return nil, fmt.Errorf("%w: fee needs %d sat plus %d sat top-up, fee inputs hold %d",
			ErrInsufficientFunds, res.Fee, res.TopUp, feeIn)
	}

	if res.TreasuryChange > 0 {
		res.Tx.AddOutput(&transaction.TransactionOutput{Satoshis: res.TreasuryChange, LockingScript: treasuryLock})
	}
	feeChange := feeIn - res.Fee - res.TopUp
	if feeChange > DustLimit {
		res.FeeChange = feeChange
		res.Tx.AddOutput(&transaction.TransactionOutput{Satoshis: feeChange, LockingScript: feeLock})
	} else {
		res.Fee += feeChange
	}
	return res, nil
}
