package witness

import (
	"encoding/json"
	"math/big"
	"strconv"
)

// CircomInputs serializes the witness to the string-keyed map the external
// circom witness calculator consumes. Every field element is rendered as a
// decimal string; fixed-arity slots are emitted as arrays. This is the only
// place where the strongly-typed witness degrades to the prover's dynamic
// key set.
func (w *SpendWitness) CircomInputs() ([]byte, error) {
	inputs := map[string]any{
		"root":                 w.Root.String(),
		"identityRoot":         w.IdentityRoot.String(),
		"identitySecret":       w.IdentitySecret.String(),
		"identityLeafIndex":    strconv.FormatUint(w.IdentityLeafIndex, 10),
		"identityPathElements": decimals(w.IdentitySiblings),
		"identityPathIndices":  bits(w.IdentityPositions),
		"amountOut":            strconv.FormatUint(w.AmountOut, 10),
		"feeAmount":            strconv.FormatUint(w.FeeAmount, 10),
		"circuitId":            strconv.FormatUint(uint64(w.CircuitID), 10),
	}

	inEnabled := make([]string, len(w.Inputs))
	inAmount := make([]string, len(w.Inputs))
	inRandomness := make([]string, len(w.Inputs))
	inSenderSecret := make([]string, len(w.Inputs))
	inLeafIndex := make([]string, len(w.Inputs))
	inTagHash := make([]string, len(w.Inputs))
	inNullifier := make([]string, len(w.Inputs))
	inPathElements := make([][]string, len(w.Inputs))
	inPathIndices := make([][]string, len(w.Inputs))
	for i, in := range w.Inputs {
		inEnabled[i] = boolDecimal(in.Enabled)
		inAmount[i] = strconv.FormatUint(in.Amount, 10)
		inRandomness[i] = in.Randomness.String()
		inSenderSecret[i] = in.SenderSecret.String()
		inLeafIndex[i] = strconv.FormatUint(in.LeafIndex, 10)
		inTagHash[i] = in.RecipientTagHash.String()
		inNullifier[i] = in.Nullifier.String()
		inPathElements[i] = decimals(in.Siblings)
		inPathIndices[i] = bits(in.Positions)
	}
	inputs["inEnabled"] = inEnabled
	inputs["inAmount"] = inAmount
	inputs["inRandomness"] = inRandomness
	inputs["inSenderSecret"] = inSenderSecret
	inputs["inLeafIndex"] = inLeafIndex
	inputs["inTagHash"] = inTagHash
	inputs["inNullifier"] = inNullifier
	inputs["inPathElements"] = inPathElements
	inputs["inPathIndices"] = inPathIndices

	outEnabled := make([]string, len(w.Outputs))
	outCommitment := make([]string, len(w.Outputs))
	outAmount := make([]string, len(w.Outputs))
	outRandomness := make([]string, len(w.Outputs))
	outTagHash := make([]string, len(w.Outputs))
	outRecipientPk := make([][]string, len(w.Outputs))
	outEphemeralKey := make([]string, len(w.Outputs))
	outC1 := make([][]string, len(w.Outputs))
	outC2 := make([][]string, len(w.Outputs))
	for i, out := range w.Outputs {
		outEnabled[i] = boolDecimal(out.Enabled)
		outCommitment[i] = out.Commitment.String()
		outAmount[i] = strconv.FormatUint(out.Amount, 10)
		outRandomness[i] = out.Randomness.String()
		outTagHash[i] = out.RecipientTagHash.String()
		outRecipientPk[i] = []string{out.RecipientX.String(), out.RecipientY.String()}
		outEphemeralKey[i] = out.EphemeralKey.String()
		outC1[i] = []string{out.C1X.String(), out.C1Y.String()}
		outC2[i] = []string{out.C2Amount.String(), out.C2Randomness.String()}
	}
	inputs["outEnabled"] = outEnabled
	inputs["outCommitment"] = outCommitment
	inputs["outAmount"] = outAmount
	inputs["outRandomness"] = outRandomness
	inputs["outTagHash"] = outTagHash
	inputs["outRecipientPk"] = outRecipientPk
	inputs["outEphemeralKey"] = outEphemeralKey
	inputs["outC1"] = outC1
	inputs["outC2"] = outC2

	return json.Marshal(inputs)
}

func decimals(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

func bits(positions []uint8) []string {
	out := make([]string, len(positions))
	for i, p := range positions {
		out[i] = strconv.Itoa(int(p))
	}
	return out
}

func boolDecimal(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
