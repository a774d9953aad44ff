// Package policy turns OpenSSL/OQS-style algorithm lists into crypto/tls
// configuration.
//
// A list is a colon-separated sequence of key-exchange group or signature
// algorithm names. Each name is either native (crypto/tls can negotiate it) or
// extended (a known post-quantum or hybrid name the Go TLS stack cannot put on
// the wire). Extended names are accepted so that the same list strings work
// across harness implementations; only the native subset reaches the handshake,
// in list order.
package policy

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
)

// nativeGroups maps group names to the crypto/tls curve they select.
var nativeGroups = map[string]tls.CurveID{
	"x25519_mlkem768": tls.X25519MLKEM768,
	"X25519MLKEM768":  tls.X25519MLKEM768,
	"p256_mlkem768":   tls.SecP256r1MLKEM768,
	"p384_mlkem1024":  tls.SecP384r1MLKEM1024,
	"x25519":          tls.X25519,
	"X25519":          tls.X25519,
	"secp256r1":       tls.CurveP256,
	"P-256":           tls.CurveP256,
	"prime256v1":      tls.CurveP256,
	"secp384r1":       tls.CurveP384,
	"P-384":           tls.CurveP384,
	"secp521r1":       tls.CurveP521,
	"P-521":           tls.CurveP521,
}

// nativeSigAlgs maps signature algorithm names to TLS signature schemes.
var nativeSigAlgs = map[string]tls.SignatureScheme{
	"ECDSA+SHA256":           tls.ECDSAWithP256AndSHA256,
	"ECDSA+SHA384":           tls.ECDSAWithP384AndSHA384,
	"ECDSA+SHA512":           tls.ECDSAWithP521AndSHA512,
	"ecdsa_secp256r1_sha256": tls.ECDSAWithP256AndSHA256,
	"ecdsa_secp384r1_sha384": tls.ECDSAWithP384AndSHA384,
	"ecdsa_secp521r1_sha512": tls.ECDSAWithP521AndSHA512,
	"RSA-PSS+SHA256":         tls.PSSWithSHA256,
	"RSA-PSS+SHA384":         tls.PSSWithSHA384,
	"RSA-PSS+SHA512":         tls.PSSWithSHA512,
	"rsa_pss_rsae_sha256":    tls.PSSWithSHA256,
	"rsa_pss_rsae_sha384":    tls.PSSWithSHA384,
	"rsa_pss_rsae_sha512":    tls.PSSWithSHA512,
	"RSA+SHA256":             tls.PKCS1WithSHA256,
	"RSA+SHA384":             tls.PKCS1WithSHA384,
	"RSA+SHA512":             tls.PKCS1WithSHA512,
	"ed25519":                tls.Ed25519,
}

// extendedGroups and extendedSigAlgs hold every known name without a native
// mapping.
var (
	extendedGroups  = extendedNames(constants.SupportedGroupsList, func(n string) bool { _, ok := nativeGroups[n]; return ok })
	extendedSigAlgs = extendedNames(constants.SupportedSigAlgsList, func(n string) bool { _, ok := nativeSigAlgs[n]; return ok })
)

func extendedNames(list string, native func(string) bool) map[string]bool {
	m := make(map[string]bool)
	for _, name := range strings.Split(list, constants.ListSeparator) {
		if !native(name) {
			m[name] = true
		}
	}
	return m
}

// Entry is one parsed list element.
type Entry struct {
	Name   string
	Native bool
}

// Policy is a parsed pair of group and signature algorithm lists.
type Policy struct {
	groups  []Entry
	sigAlgs []Entry
	curves  []tls.CurveID
	schemes []tls.SignatureScheme
}

// Parse parses a group list and a signature algorithm list.
//
// An unknown name in either list, or a list with no native entry, is a
// SetupError.
func Parse(groups, sigAlgs string) (*Policy, error) {
	p := &Policy{}

	for _, name := range splitList(groups) {
		if curve, ok := nativeGroups[name]; ok {
			p.groups = append(p.groups, Entry{Name: name, Native: true})
			if !slices.Contains(p.curves, curve) {
				p.curves = append(p.curves, curve)
			}
			continue
		}
		if !extendedGroups[name] {
			return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: %q", qerrors.ErrUnsupportedGroup, name))
		}
		p.groups = append(p.groups, Entry{Name: name})
	}

	for _, name := range splitList(sigAlgs) {
		if scheme, ok := nativeSigAlgs[name]; ok {
			p.sigAlgs = append(p.sigAlgs, Entry{Name: name, Native: true})
			if !slices.Contains(p.schemes, scheme) {
				p.schemes = append(p.schemes, scheme)
			}
			continue
		}
		if !extendedSigAlgs[name] {
			return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: %q", qerrors.ErrUnsupportedSigAlg, name))
		}
		p.sigAlgs = append(p.sigAlgs, Entry{Name: name})
	}

	if len(p.curves) == 0 {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: groups %q", qerrors.ErrNoNativeAlgorithm, groups))
	}
	if len(p.schemes) == 0 {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: sigalgs %q", qerrors.ErrNoNativeAlgorithm, sigAlgs))
	}
	return p, nil
}

// Default returns the policy built from the compiled-in lists.
func Default() *Policy {
	p, err := Parse(constants.SupportedGroupsList, constants.SupportedSigAlgsList)
	if err != nil {
		panic(fmt.Sprintf("policy: compiled-in lists do not parse: %v", err))
	}
	return p
}

// ForClient returns the client policy: a single group and the shared
// signature list.
func ForClient(group string) (*Policy, error) {
	return Parse(group, constants.SupportedSigAlgsList)
}

// Groups returns the parsed group entries in list order.
func (p *Policy) Groups() []Entry { return append([]Entry(nil), p.groups...) }

// SigAlgs returns the parsed signature entries in list order.
func (p *Policy) SigAlgs() []Entry { return append([]Entry(nil), p.sigAlgs...) }

// Curves returns the native groups in preference order.
func (p *Policy) Curves() []tls.CurveID { return append([]tls.CurveID(nil), p.curves...) }

// Schemes returns the native signature schemes in preference order.
func (p *Policy) Schemes() []tls.SignatureScheme {
	return append([]tls.SignatureScheme(nil), p.schemes...)
}

// ServerTLSConfig builds the listener configuration around cert. The
// certificate is restricted to the policy's schemes; a key that can produce
// none of them is a SetupError.
func (p *Policy) ServerTLSConfig(cert tls.Certificate) (*tls.Config, error) {
	if cert.PrivateKey == nil || len(cert.Certificate) == 0 {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("policy: empty certificate"))
	}
	signer, ok := cert.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("policy: private key %T cannot sign", cert.PrivateKey))
	}
	allowed := p.allowedFor(signer.Public())
	if len(allowed) == 0 {
		return nil, qerrors.Setup(qerrors.PhaseSetup,
			fmt.Errorf("%w: %s key", qerrors.ErrPeerKeyRejected, KeyType(signer.Public())))
	}
	cert.SupportedSignatureAlgorithms = allowed

	cfg := &tls.Config{
		MinVersion:       constants.MinTLSVersion,
		MaxVersion:       constants.MaxTLSVersion,
		CurvePreferences: p.Curves(),
		Certificates:     []tls.Certificate{cert},
		ClientAuth:       tls.NoClientCert,
	}
	cfg.SetSessionTicketKeys([][32]byte{SessionTicketKey()})
	return cfg, nil
}

// ClientTLSConfig builds a fresh client configuration. The peer chain is not
// verified; the leaf key must be able to produce one of the policy's schemes.
func (p *Policy) ClientTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		MinVersion:         constants.MinTLSVersion,
		MaxVersion:         constants.MaxTLSVersion,
		CurvePreferences:   p.Curves(),
		ServerName:         serverName,
		InsecureSkipVerify: true, //nolint:gosec // benchmark peers use self-signed certificates
		VerifyConnection: func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return qerrors.ErrPeerKeyRejected
			}
			pub := cs.PeerCertificates[0].PublicKey
			if len(p.allowedFor(pub)) == 0 {
				return fmt.Errorf("%w: %s key", qerrors.ErrPeerKeyRejected, KeyType(pub))
			}
			return nil
		},
	}
}

// allowedFor returns the policy schemes a key of pub's type can produce in
// TLS 1.3, in policy order.
func (p *Policy) allowedFor(pub crypto.PublicKey) []tls.SignatureScheme {
	capable := SchemesForKey(pub)
	var out []tls.SignatureScheme
	for _, s := range p.schemes {
		if slices.Contains(capable, s) {
			out = append(out, s)
		}
	}
	return out
}

// SchemesForKey returns the TLS 1.3 signature schemes a public key can produce.
func SchemesForKey(pub crypto.PublicKey) []tls.SignatureScheme {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return []tls.SignatureScheme{tls.PSSWithSHA256, tls.PSSWithSHA384, tls.PSSWithSHA512}
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return []tls.SignatureScheme{tls.ECDSAWithP256AndSHA256}
		case elliptic.P384():
			return []tls.SignatureScheme{tls.ECDSAWithP384AndSHA384}
		case elliptic.P521():
			return []tls.SignatureScheme{tls.ECDSAWithP521AndSHA512}
		}
	case ed25519.PublicKey:
		return []tls.SignatureScheme{tls.Ed25519}
	}
	return nil
}

// KeyType names the algorithm of a public key for log messages.
func KeyType(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("rsa%d", k.N.BitLen())
	case *ecdsa.PublicKey:
		return k.Curve.Params().Name
	case ed25519.PublicKey:
		return "ed25519"
	default:
		return fmt.Sprintf("%T", pub)
	}
}

// SessionTicketKey derives the ticket key shared by every listener from the
// fixed session context id.
func SessionTicketKey() [32]byte {
	var key [32]byte
	r := hkdf.New(sha256.New, []byte(constants.SessionContextID), nil, []byte("session ticket key"))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		panic(fmt.Sprintf("policy: hkdf: %v", err))
	}
	return key
}

// IsNativeGroup reports whether crypto/tls can negotiate the named group.
func IsNativeGroup(name string) bool {
	_, ok := nativeGroups[name]
	return ok
}

// IsNativeSigAlg reports whether crypto/tls can negotiate the named scheme.
func IsNativeSigAlg(name string) bool {
	_, ok := nativeSigAlgs[name]
	return ok
}

func splitList(list string) []string {
	var out []string
	for _, name := range strings.Split(list, constants.ListSeparator) {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
