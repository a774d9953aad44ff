// Package credentials generates, stores and loads the server's certificate
// and private key.
//
// Generated certificates are self-signed, carry serial number 1 and the fixed
// benchmark subject, and are valid for 99 years. Peers never verify the chain,
// so the certificate exists only to carry the key used for the handshake
// signature.
package credentials

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
)

// generators maps algorithm names to key generators.
var generators = map[string]func() (crypto.Signer, error){
	"rsa2048": func() (crypto.Signer, error) { return rsa.GenerateKey(rand.Reader, 2048) },
	"rsa3072": func() (crypto.Signer, error) { return rsa.GenerateKey(rand.Reader, 3072) },
	"rsa4096": func() (crypto.Signer, error) { return rsa.GenerateKey(rand.Reader, 4096) },
	"p256":    func() (crypto.Signer, error) { return ecdsa.GenerateKey(elliptic.P256(), rand.Reader) },
	"p384":    func() (crypto.Signer, error) { return ecdsa.GenerateKey(elliptic.P384(), rand.Reader) },
	"p521":    func() (crypto.Signer, error) { return ecdsa.GenerateKey(elliptic.P521(), rand.Reader) },
	"ed25519": func() (crypto.Signer, error) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	},
}

// Algorithms returns the algorithm names Generate accepts, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Credentials is a private key and its self-signed certificate.
type Credentials struct {
	Algorithm   string
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
}

// Generate creates a keypair and self-signed certificate for algo.
//
// Post-quantum signature names known to the compiled-in list return
// ErrUnsupportedAlgorithm; anything else unknown returns ErrUnsupportedSigAlg.
func Generate(algo string) (*Credentials, error) {
	gen, ok := generators[algo]
	if !ok {
		if isKnownSigAlg(algo) {
			return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: %s", qerrors.ErrUnsupportedAlgorithm, algo))
		}
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: %s", qerrors.ErrUnsupportedSigAlg, algo))
	}

	key, err := gen()
	if err != nil {
		return nil, fmt.Errorf("credentials: generate %s key: %w", algo, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: constants.CertCommonName},
		DNSNames:              []string{constants.CertCommonName},
		NotBefore:             now,
		NotAfter:              now.Add(constants.CertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if _, isRSA := key.(*rsa.PrivateKey); isRSA {
		template.KeyUsage |= x509.KeyUsageKeyEncipherment
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("credentials: self-sign %s certificate: %w", algo, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("credentials: parse generated certificate: %w", err)
	}

	return &Credentials{Algorithm: algo, Certificate: cert, PrivateKey: key}, nil
}

// TLSCertificate returns the credentials in crypto/tls form.
func (c *Credentials) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{c.Certificate.Raw},
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}

// WritePEM writes the certificate and PKCS#8 private key. Existing files are
// never overwritten.
func (c *Credentials) WritePEM(certPath, keyPath string) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(c.PrivateKey)
	if err != nil {
		return fmt.Errorf("credentials: marshal private key: %w", err)
	}

	if err := writeNew(certPath, 0o644, &pem.Block{Type: "CERTIFICATE", Bytes: c.Certificate.Raw}); err != nil {
		return err
	}
	if err := writeNew(keyPath, 0o600, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		_ = os.Remove(certPath)
		return err
	}
	return nil
}

func writeNew(path string, perm os.FileMode, block *pem.Block) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm) //nolint:gosec // path is operator supplied
	if err != nil {
		return qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("credentials: create %s: %w", path, err))
	}
	if err := pem.Encode(f, block); err != nil {
		_ = f.Close()
		return fmt.Errorf("credentials: write %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a PEM certificate chain and private key. Unreadable files,
// malformed PEM and a key that does not match the leaf are SetupErrors.
func Load(certPath, keyPath string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath) //nolint:gosec // path is operator supplied
	if err != nil {
		return tls.Certificate{}, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("credentials: read certificate: %w", err))
	}
	keyPEM, err := os.ReadFile(keyPath) //nolint:gosec // path is operator supplied
	if err != nil {
		return tls.Certificate{}, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("credentials: read private key: %w", err))
	}

	var out tls.Certificate
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			out.Certificate = append(out.Certificate, block.Bytes)
		}
	}
	if len(out.Certificate) == 0 {
		return tls.Certificate{}, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("credentials: no certificate in %s", certPath))
	}
	leaf, err := x509.ParseCertificate(out.Certificate[0])
	if err != nil {
		return tls.Certificate{}, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("credentials: parse certificate: %w", err))
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return tls.Certificate{}, qerrors.Setup(qerrors.PhaseSetup, err)
	}
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return tls.Certificate{}, qerrors.Setup(qerrors.PhaseSetup, qerrors.ErrKeyMismatch)
	}

	out.PrivateKey = key
	out.Leaf = leaf
	return out, nil
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("credentials: no private key found")
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}

		var key interface{}
		var err error
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			key, err = x509.ParseECPrivateKey(block.Bytes)
		default:
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		}
		if err != nil {
			return nil, fmt.Errorf("credentials: parse private key: %w", err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("credentials: private key %T cannot sign", key)
		}
		return signer, nil
	}
}

func isKnownSigAlg(name string) bool {
	return slices.Contains(strings.Split(constants.SupportedSigAlgsList, constants.ListSeparator), name)
}
