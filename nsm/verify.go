package nsm

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Verification errors. Each one is terminal for that verification attempt:
// no partial or degraded trust is ever returned.
var (
	ErrMalformed      = errors.New("malformed attestation document")
	ErrUntrustedChain = errors.New("certificate chain does not terminate at trust anchor")
	ErrExpired        = errors.New("certificate validity window violated")
	ErrBadSignature   = errors.New("attestation signature verification failed")
)

// SignedEnvelope is the decoded COSE Sign1 structure wrapping an
// attestation document. Document holds the decoded payload; the raw
// sections are kept because signature verification must reconstruct the
// exact signing structure from the protected header and payload bytes.
type SignedEnvelope struct {
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
	Document    *Document
}

type coseSign1 struct {
	_ struct{} `cbor:",toarray"`

	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

type coseHeader struct {
	Alg any `cbor:"1,keyasint,omitempty"`
}

// coseSignature is the canonical Sig_structure of RFC 8152, section 4.4.
// The signature in a COSE Sign1 envelope is computed over this structure,
// not over the payload directly.
type coseSignature struct {
	_ struct{} `cbor:",toarray"`

	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

// isES384 reports whether the protected header declares ECDSA with SHA-384,
// the only algorithm the Nitro hypervisor signs with. See RFC 8152,
// section 8.1 for the algorithm registry.
func (h *coseHeader) isES384() bool {
	switch alg := h.Alg.(type) {
	case int64:
		return alg == -35
	case string:
		return alg == "ES384"
	}
	return false
}

// Decode parses the outer COSE Sign1 envelope and its embedded attestation
// document. Unknown fields are ignored for forward compatibility; missing
// required fields yield ErrMalformed. No signature verification happens
// here.
func Decode(raw []byte) (*SignedEnvelope, error) {
	var cose coseSign1
	if err := cbor.Unmarshal(raw, &cose); err != nil {
		return nil, fmt.Errorf("%w: not a COSE Sign1 array: %v", ErrMalformed, err)
	}
	if len(cose.Protected) == 0 {
		return nil, fmt.Errorf("%w: protected section is empty", ErrMalformed)
	}
	if len(cose.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload section is empty", ErrMalformed)
	}
	if len(cose.Signature) == 0 {
		return nil, fmt.Errorf("%w: signature section is empty", ErrMalformed)
	}

	var header coseHeader
	if err := cbor.Unmarshal(cose.Protected, &header); err != nil {
		return nil, fmt.Errorf("%w: protected section is not a header map", ErrMalformed)
	}
	if !header.isES384() {
		return nil, fmt.Errorf("%w: signing algorithm is not ES384", ErrMalformed)
	}

	doc := new(Document)
	if err := cbor.Unmarshal(cose.Payload, doc); err != nil {
		return nil, fmt.Errorf("%w: payload is not an attestation document: %v",
			ErrMalformed, err)
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}

	return &SignedEnvelope{
		Protected:   cose.Protected,
		Unprotected: cose.Unprotected,
		Payload:     cose.Payload,
		Signature:   cose.Signature,
		Document:    doc,
	}, nil
}

// checkDocument runs the structural sanity checks from page 70 of the AWS
// Nitro Enclaves user guide.
func checkDocument(doc *Document) error {
	if doc.ModuleID == "" {
		return fmt.Errorf("%w: missing module_id", ErrMalformed)
	}
	if doc.Timestamp < 1 {
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	switch doc.Digest {
	case DigestSHA256, DigestSHA384, DigestSHA512:
	default:
		return fmt.Errorf("%w: digest %q is not supported", ErrMalformed, doc.Digest)
	}

	if len(doc.PCRs) < 1 || len(doc.PCRs) > 32 {
		return fmt.Errorf("%w: pcrs must have between 1 and 32 entries", ErrMalformed)
	}
	for index, value := range doc.PCRs {
		if index > 31 {
			return fmt.Errorf("%w: pcr index %d exceeds 31", ErrMalformed, index)
		}
		if !slices.Contains([]int{32, 48, 64}, len(value)) {
			return fmt.Errorf("%w: pcr %d is not of length {32,48,64}", ErrMalformed, index)
		}
	}

	if len(doc.Certificate) == 0 {
		return fmt.Errorf("%w: missing certificate", ErrMalformed)
	}
	if len(doc.CABundle) < 1 {
		return fmt.Errorf("%w: cabundle has no entries", ErrMalformed)
	}
	for _, item := range doc.CABundle {
		if len(item) < 1 || len(item) > 1024 {
			return fmt.Errorf("%w: cabundle entry length not in [1, 1024]", ErrMalformed)
		}
	}

	if len(doc.PublicKey) > AuxFieldLen ||
		len(doc.UserData) > AuxFieldLen ||
		len(doc.Nonce) > AuxFieldLen {
		return fmt.Errorf("%w: auxiliary field exceeds maximum length", ErrMalformed)
	}
	return nil
}

// VerifyOptions configures attestation verification. It is strongly
// recommended to supply CurrentTime explicitly.
type VerifyOptions struct {
	// TrustAnchor is the DER-encoded certificate treated as axiomatically
	// trusted. If nil, the AWS Nitro Enclaves root is used.
	TrustAnchor []byte

	// CurrentTime is the time at which certificate validity windows are
	// checked. If zero, time.Now() is used.
	CurrentTime time.Time
}

// Verify validates the signed envelope against a trust anchor: first the
// certificate chain from the document's leaf certificate through the CA
// bundle up to the anchor, then every certificate's validity window, then
// the COSE signature against the leaf's public key. Only if all checks pass
// is the embedded document returned. The document's PCR, public key, user
// data, and nonce fields are opaque to this function; which values are
// acceptable is the relying application's policy, not ours.
func Verify(env *SignedEnvelope, opts VerifyOptions) (*Document, error) {
	if env == nil || env.Document == nil {
		return nil, fmt.Errorf("%w: envelope is nil", ErrMalformed)
	}
	doc := env.Document

	// Decode the leaf certificate and the CA bundle.
	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: bad leaf certificate: %v", ErrMalformed, err)
	}
	if leaf.PublicKeyAlgorithm != x509.ECDSA {
		return nil, fmt.Errorf("%w: leaf public key algorithm is not ECDSA", ErrMalformed)
	}
	chain := make([]*x509.Certificate, 0, len(doc.CABundle)+1)
	chain = append(chain, leaf)
	for _, item := range doc.CABundle {
		cert, err := x509.ParseCertificate(item)
		if err != nil {
			return nil, fmt.Errorf("%w: bad cabundle certificate: %v", ErrMalformed, err)
		}
		chain = append(chain, cert)
	}

	anchor, err := trustAnchor(opts.TrustAnchor)
	if err != nil {
		return nil, err
	}

	// Build the path from the leaf through the bundle (root-most last) up
	// to the anchor. We walk the chain explicitly instead of calling
	// x509.Verify because the check order below must hold: path existence
	// first, validity windows second, document signature last.
	for i := 0; i < len(chain)-1; i++ {
		if err := chain[i].CheckSignatureFrom(chain[i+1]); err != nil {
			return nil, fmt.Errorf("%w: link %d: %v", ErrUntrustedChain, i, err)
		}
	}
	last := chain[len(chain)-1]
	if !bytes.Equal(last.Raw, anchor.Raw) {
		if err := last.CheckSignatureFrom(anchor); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUntrustedChain, err)
		}
	}

	// Check every certificate's validity window, the anchor included.
	now := opts.CurrentTime
	if now.IsZero() {
		now = time.Now()
	}
	for _, cert := range append(chain, anchor) {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return nil, fmt.Errorf("%w: certificate for %q not valid at %s",
				ErrExpired, cert.Subject.CommonName, now.UTC().Format(time.RFC3339))
		}
	}

	// Reconstruct the exact signing structure and verify the signature
	// against the leaf's public key. The signature is raw r||s over the
	// SHA-384 hash of the structure, per the ES384 declaration we already
	// checked during decoding.
	sigStruct, err := cbor.Marshal(&coseSignature{
		Context:     "Signature1",
		Protected:   env.Protected,
		ExternalAAD: []byte{},
		Payload:     env.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build signing structure: %v",
			ErrBadSignature, err)
	}
	hash := sha512.Sum384(sigStruct)

	key, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf public key is not ECDSA", ErrMalformed)
	}
	if len(env.Signature) != 2*len(hash) {
		return nil, fmt.Errorf("%w: unexpected signature length %d",
			ErrBadSignature, len(env.Signature))
	}
	r := new(big.Int).SetBytes(env.Signature[:len(hash)])
	s := new(big.Int).SetBytes(env.Signature[len(hash):])
	if !ecdsa.Verify(key, hash[:], r, s) {
		return nil, fmt.Errorf("%w: signature does not match leaf certificate key",
			ErrBadSignature)
	}

	return doc, nil
}

// VerifyRaw decodes and verifies a COSE-encoded attestation document in one
// step.
func VerifyRaw(raw []byte, opts VerifyOptions) (*Document, error) {
	env, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return Verify(env, opts)
}

func trustAnchor(der []byte) (*x509.Certificate, error) {
	if der == nil {
		return awsNitroRoot, nil
	}
	anchor, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("invalid trust anchor: %w", err)
	}
	return anchor, nil
}

var awsNitroRoot = parseAWSNitroRoot()

func parseAWSNitroRoot() *x509.Certificate {
	// The PEM-encoded root for verifying Nitro Enclave attestation
	// signatures. You can download it from
	// https://aws-nitro-enclaves.amazonaws.com/AWS_NitroEnclaves_Root-G1.zip
	// It's recommended you calculate the SHA256 sum of this string and
	// match it to the one supplied in the AWS documentation:
	// https://docs.aws.amazon.com/enclaves/latest/user/verify-root.html
	const awsNitroRootPEM = `-----BEGIN CERTIFICATE-----
MIICETCCAZagAwIBAgIRAPkxdWgbkK/hHUbMtOTn+FYwCgYIKoZIzj0EAwMwSTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoMBkFtYXpvbjEMMAoGA1UECwwDQVdTMRswGQYD
VQQDDBJhd3Mubml0cm8tZW5jbGF2ZXMwHhcNMTkxMDI4MTMyODA1WhcNNDkxMDI4
MTQyODA1WjBJMQswCQYDVQQGEwJVUzEPMA0GA1UECgwGQW1hem9uMQwwCgYDVQQL
DANBV1MxGzAZBgNVBAMMEmF3cy5uaXRyby1lbmNsYXZlczB2MBAGByqGSM49AgEG
BSuBBAAiA2IABPwCVOumCMHzaHDimtqQvkY4MpJzbolL//Zy2YlES1BR5TSksfbb
48C8WBoyt7F2Bw7eEtaaP+ohG2bnUs990d0JX28TcPQXCEPZ3BABIeTPYwEoCWZE
h8l5YoQwTcU/9KNCMEAwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUkCW1DdkF
R+eWw5b6cp3PmanfS5YwDgYDVR0PAQH/BAQDAgGGMAoGCCqGSM49BAMDA2kAMGYC
MQCjfy+Rocm9Xue4YnwWmNJVA44fA0P5W2OpYow9OYCVRaEevL8uO1XYru5xtMPW
rfMCMQCi85sWBbJwKKXdS6BptQFuZbT73o/gBh1qUxl/nNr12UO8Yfwr6wPLb+6N
IwLz3/Y=
-----END CERTIFICATE-----`

	block, _ := pem.Decode([]byte(awsNitroRootPEM))
	if block == nil {
		panic("failed to decode embedded AWS Nitro root")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		panic(err)
	}
	return cert
}
