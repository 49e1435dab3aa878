package disburse

const (
	// DustLimit is the smallest output the builder creates, in satoshis.
	DustLimit = uint64(546)

	// DefaultFeeRate is the default fee rate in sat/KB.
	DefaultFeeRate = uint64(1)

	// PKHLen is the length of a public key hash.
	PKHLen = 20
)

// EstimateTxSize returns the serialized size of a transaction spending
// numInputs P2PKH outputs into numOutputs P2PKH outputs.
func EstimateTxSize(numInputs, numOutputs int) int {
	// version(4) + locktime(4) + varints(2)
	// input: outpoint(36) + scriptlen(1) + sig+pubkey(~107) + sequence(4) = 148
	// output: value(8) + scriptlen(1) + script(25) = 34
	return 10 + numInputs*148 + numOutputs*34
}

// EstimateFee returns the fee for a transaction of txSizeBytes at feeRate
// sat/KB, rounded up. A zero rate uses DefaultFeeRate.
func EstimateFee(txSizeBytes int, feeRate uint64) uint64 {
	if feeRate == 0 {
		feeRate = DefaultFeeRate
	}
	return (uint64(txSizeBytes)*feeRate + 999) / 1000
}
