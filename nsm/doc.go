// Package nsm interfaces with the Nitro Secure Module: it requests signed
// attestation documents from inside an enclave and verifies them on the
// relying side.
package nsm

// Digest identifies the hash function the module used for the PCR values.
type Digest string

const (
	DigestSHA256 Digest = "SHA256"
	DigestSHA384 Digest = "SHA384"
	DigestSHA512 Digest = "SHA512"
)

// AuxFieldLen is the maximum length of the optional public key, user data,
// and nonce fields. See page 65 of the AWS Nitro Enclaves user guide:
// https://docs.aws.amazon.com/pdfs/enclaves/latest/user/enclaves-user.pdf
const AuxFieldLen = 1024

// AuxInfo carries the caller-supplied fields that the module embeds in the
// attestation document and signs.
type AuxInfo struct {
	PublicKey []byte
	UserData  []byte
	Nonce     []byte
}

// Document represents the attestation document as specified on page 70 of
// the AWS Nitro Enclaves user guide. It is produced by decoding the payload
// of the module's COSE Sign1 envelope and is never mutated afterwards.
type Document struct {
	ModuleID    string   `cbor:"module_id" json:"module_id"`
	Timestamp   uint64   `cbor:"timestamp" json:"timestamp"`
	Digest      Digest   `cbor:"digest" json:"digest"`
	PCRs        PCRs     `cbor:"pcrs" json:"pcrs"`
	Certificate []byte   `cbor:"certificate" json:"certificate"`
	CABundle    [][]byte `cbor:"cabundle" json:"cabundle"`

	PublicKey []byte `cbor:"public_key" json:"public_key,omitempty"`
	UserData  []byte `cbor:"user_data" json:"user_data,omitempty"`
	Nonce     []byte `cbor:"nonce" json:"nonce,omitempty"`
}

// Description summarizes the module's identity and PCR configuration.
type Description struct {
	ModuleID     string
	VersionMajor uint16
	VersionMinor uint16
	VersionPatch uint16
	MaxPCRs      uint16
	LockedPCRs   []uint16
	Digest       Digest
}
