// Package pqc installs the extended post-quantum algorithm provider.
//
// The Go TLS stack negotiates only a few hybrid ML-KEM groups natively. The
// provider binds the remaining OQS group and signature names that have a
// circl implementation, so they can be listed with real key and ciphertext
// sizes. Install runs a pairwise self-test on every bound scheme before any
// session work starts, in the manner of a power-on self-test: a scheme that
// fails makes the whole install fail.
package pqc

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/cloudflare/circl/kem"
	kemschemes "github.com/cloudflare/circl/kem/schemes"
	"github.com/cloudflare/circl/sign"
	signschemes "github.com/cloudflare/circl/sign/schemes"

	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
)

// groupBindings maps OQS group names to circl KEM scheme names.
var groupBindings = map[string]string{
	"mlkem512":        "ML-KEM-512",
	"mlkem768":        "ML-KEM-768",
	"mlkem1024":       "ML-KEM-1024",
	"kyber512":        "Kyber512",
	"kyber768":        "Kyber768",
	"kyber1024":       "Kyber1024",
	"x25519_kyber512": "Kyber512-X25519",
	"x25519_kyber768": "Kyber768-X25519",
	"x448_kyber768":   "Kyber768-X448",
	"x25519_mlkem768": "X25519MLKEM768",
}

// sigAlgBindings maps OQS signature names to circl sign scheme names.
var sigAlgBindings = map[string]string{
	"mldsa44": "ML-DSA-44",
	"mldsa65": "ML-DSA-65",
	"mldsa87": "ML-DSA-87",
	"ed25519": "Ed25519",
}

// selfTestMessage is signed during the signature self-test.
var selfTestMessage = []byte("pqtls-bench provider self-test")

// KEMInfo describes a bound key-exchange group.
type KEMInfo struct {
	Name           string
	Scheme         string
	PublicKeySize  int
	CiphertextSize int
	SharedKeySize  int
}

// SignInfo describes a bound signature algorithm.
type SignInfo struct {
	Name          string
	Scheme        string
	PublicKeySize int
	SignatureSize int
}

// Provider holds the bound schemes. It is read-only after Install returns.
type Provider struct {
	kems  map[string]kem.Scheme
	signs map[string]sign.Scheme
}

var (
	installOnce sync.Once
	installed   *Provider
	installErr  error
)

// Install binds and self-tests the extended schemes. It runs once per process;
// later calls return the same result.
func Install() (*Provider, error) {
	installOnce.Do(func() {
		installed, installErr = install()
	})
	return installed, installErr
}

func install() (*Provider, error) {
	p := &Provider{
		kems:  make(map[string]kem.Scheme),
		signs: make(map[string]sign.Scheme),
	}

	for name, schemeName := range groupBindings {
		s := kemschemes.ByName(schemeName)
		if s == nil {
			continue
		}
		if err := selfTestKEM(s); err != nil {
			return nil, qerrors.Setup(qerrors.PhaseSetup,
				fmt.Errorf("%w: %s (%s): %v", qerrors.ErrProviderSelfTest, name, schemeName, err))
		}
		p.kems[name] = s
	}

	for name, schemeName := range sigAlgBindings {
		s := signschemes.ByName(schemeName)
		if s == nil {
			continue
		}
		if err := selfTestSign(s); err != nil {
			return nil, qerrors.Setup(qerrors.PhaseSetup,
				fmt.Errorf("%w: %s (%s): %v", qerrors.ErrProviderSelfTest, name, schemeName, err))
		}
		p.signs[name] = s
	}

	return p, nil
}

// selfTestKEM checks that decapsulation recovers the encapsulated secret.
func selfTestKEM(s kem.Scheme) error {
	pk, sk, err := s.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	ct, ss, err := s.Encapsulate(pk)
	if err != nil {
		return fmt.Errorf("encapsulate: %w", err)
	}
	if len(ct) != s.CiphertextSize() {
		return fmt.Errorf("ciphertext size %d, want %d", len(ct), s.CiphertextSize())
	}
	ss2, err := s.Decapsulate(sk, ct)
	if err != nil {
		return fmt.Errorf("decapsulate: %w", err)
	}
	if !bytes.Equal(ss, ss2) {
		return fmt.Errorf("shared secret mismatch")
	}
	return nil
}

// selfTestSign checks that a signature verifies and a tampered message does not.
func selfTestSign(s sign.Scheme) error {
	pk, sk, err := s.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	sig := s.Sign(sk, selfTestMessage, nil)
	if !s.Verify(pk, selfTestMessage, sig, nil) {
		return fmt.Errorf("signature does not verify")
	}
	tampered := append([]byte(nil), selfTestMessage...)
	tampered[0] ^= 0xff
	if s.Verify(pk, tampered, sig, nil) {
		return fmt.Errorf("signature verifies a tampered message")
	}
	return nil
}

// Group returns the bound scheme for an OQS group name.
func (p *Provider) Group(name string) (KEMInfo, bool) {
	s, ok := p.kems[name]
	if !ok {
		return KEMInfo{}, false
	}
	return KEMInfo{
		Name:           name,
		Scheme:         s.Name(),
		PublicKeySize:  s.PublicKeySize(),
		CiphertextSize: s.CiphertextSize(),
		SharedKeySize:  s.SharedKeySize(),
	}, true
}

// SigAlg returns the bound scheme for an OQS signature name.
func (p *Provider) SigAlg(name string) (SignInfo, bool) {
	s, ok := p.signs[name]
	if !ok {
		return SignInfo{}, false
	}
	return SignInfo{
		Name:          name,
		Scheme:        s.Name(),
		PublicKeySize: s.PublicKeySize(),
		SignatureSize: s.SignatureSize(),
	}, true
}

// Groups returns the bound group names, sorted.
func (p *Provider) Groups() []string {
	names := make([]string, 0, len(p.kems))
	for name := range p.kems {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SigAlgs returns the bound signature names, sorted.
func (p *Provider) SigAlgs() []string {
	names := make([]string, 0, len(p.signs))
	for name := range p.signs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
