package nsm

import "bytes"

// PCRs maps a platform configuration register index to its digest.
type PCRs map[uint][]byte

// Equal returns true if (and only if) the two given PCR maps are identical.
// PCR4 contains a hash over the parent's instance ID. Enclaves run on
// different parent instances, so PCR4 is excluded from the comparison:
// https://docs.aws.amazon.com/enclaves/latest/user/set-up-attestation.html
func (ours PCRs) Equal(theirs PCRs) bool {
	const parentInstancePCR = 4

	if len(ours) != len(theirs) {
		return false
	}
	for i, ourValue := range ours {
		if i == parentInstancePCR {
			continue
		}
		theirValue, exists := theirs[i]
		if !exists {
			return false
		}
		if !bytes.Equal(ourValue, theirValue) {
			return false
		}
	}
	return true
}

// FromDebugMode returns true if the PCR values belong to an enclave that
// runs in debug mode, in which case PCRs 0 through 2 are zeroed out and the
// document must not be trusted.
func (p PCRs) FromDebugMode() bool {
	for _, i := range []uint{0, 1, 2} {
		if !allZero(p[i]) {
			return false
		}
	}
	return true
}

func allZero(s []byte) bool {
	for _, b := range s {
		if b != 0 {
			return false
		}
	}
	return true
}
