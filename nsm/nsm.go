package nsm

import (
	"errors"
	"fmt"

	"github.com/Amnesic-Systems/pontifex/internal/errs"
	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
)

// Module is an open session to the Nitro Secure Module driver. It is only
// usable from inside an enclave.
type Module struct {
	session *nsm.Session
}

// Open establishes a session to the module driver.
func Open() (_ *Module, err error) {
	defer errs.Wrap(&err, "failed to connect to the secure module")

	session, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, err
	}
	return &Module{session: session}, nil
}

// Close tears down the driver session.
func (m *Module) Close() error {
	return m.session.Close()
}

// Describe queries the module's identity and PCR configuration.
func (m *Module) Describe() (_ *Description, err error) {
	defer errs.Wrap(&err, "failed to describe the secure module")

	resp, err := m.session.Send(&request.DescribeNSM{})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("module returned error: %s", resp.Error)
	}
	if resp.DescribeNSM == nil {
		return nil, errors.New("required fields missing in describe response")
	}

	d := resp.DescribeNSM
	return &Description{
		ModuleID:     d.ModuleID,
		VersionMajor: d.VersionMajor,
		VersionMinor: d.VersionMinor,
		VersionPatch: d.VersionPatch,
		MaxPCRs:      d.MaxPCRs,
		LockedPCRs:   d.LockedPCRs,
		Digest:       Digest(d.Digest),
	}, nil
}

// RawAttest asks the module for an attestation document embedding the given
// auxiliary fields and returns the COSE Sign1 envelope as an opaque blob,
// ready to be shipped to a relying party.
func (m *Module) RawAttest(aux *AuxInfo) (_ []byte, err error) {
	defer errs.Wrap(&err, "failed to create attestation document")

	if aux == nil {
		return nil, errs.IsNil
	}

	resp, err := m.session.Send(&request.Attestation{
		Nonce:     aux.Nonce,
		UserData:  aux.UserData,
		PublicKey: aux.PublicKey,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("module returned error: %s", resp.Error)
	}
	if resp.Attestation == nil || resp.Attestation.Document == nil {
		return nil, errors.New("required fields missing in attestation response")
	}
	return resp.Attestation.Document, nil
}

// Attest requests an attestation document and decodes it. The decode runs
// the structural checks only; it performs no signature verification, which
// is pointless inside the enclave anyway. Relying parties must use Verify.
func (m *Module) Attest(aux *AuxInfo) (*Document, error) {
	raw, err := m.RawAttest(aux)
	if err != nil {
		return nil, err
	}
	env, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return env.Document, nil
}
