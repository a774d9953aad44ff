package policy_test

import (
	"context"
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
	"github.com/pzverkov/pqtls-bench/pkg/credentials"
	"github.com/pzverkov/pqtls-bench/pkg/policy"
)

// TestParse tests list parsing, ordering and rejection rules.
func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		groups  string
		sigAlgs string
		curves  []tls.CurveID
		wantErr error
	}{
		{
			name:    "hybrid groups keep order",
			groups:  "p384_mlkem1024:x25519_mlkem768",
			sigAlgs: "ECDSA+SHA256",
			curves:  []tls.CurveID{tls.SecP384r1MLKEM1024, tls.X25519MLKEM768},
		},
		{
			name:    "extended names are skipped",
			groups:  "frodo640aes:p256_mlkem768:hqc128",
			sigAlgs: "mldsa65:ed25519",
			curves:  []tls.CurveID{tls.SecP256r1MLKEM768},
		},
		{
			name:    "duplicate curve aliases collapse",
			groups:  "x25519_mlkem768:X25519MLKEM768",
			sigAlgs: "ed25519",
			curves:  []tls.CurveID{tls.X25519MLKEM768},
		},
		{
			name:    "unknown group",
			groups:  "no_such_group",
			sigAlgs: "ed25519",
			wantErr: qerrors.ErrUnsupportedGroup,
		},
		{
			name:    "unknown sigalg",
			groups:  "x25519",
			sigAlgs: "rot13",
			wantErr: qerrors.ErrUnsupportedSigAlg,
		},
		{
			name:    "only extended groups",
			groups:  "kyber512:frodo640aes",
			sigAlgs: "ed25519",
			wantErr: qerrors.ErrNoNativeAlgorithm,
		},
		{
			name:    "only extended sigalgs",
			groups:  "x25519",
			sigAlgs: "mldsa44:falcon512",
			wantErr: qerrors.ErrNoNativeAlgorithm,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := policy.Parse(tt.groups, tt.sigAlgs)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, qerrors.IsSetup(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.curves, p.Curves())
		})
	}
}

// TestDefault tests that the compiled-in lists parse.
func TestDefault(t *testing.T) {
	p := policy.Default()

	assert.Equal(t, []tls.CurveID{tls.X25519MLKEM768, tls.SecP256r1MLKEM768, tls.SecP384r1MLKEM1024}, p.Curves())
	assert.Equal(t, tls.ECDSAWithP256AndSHA256, p.Schemes()[0])

	var extended int
	for _, e := range p.Groups() {
		if !e.Native {
			extended++
		}
	}
	assert.Greater(t, extended, 0, "compiled-in groups should include extended names")
}

// TestForClient tests single-group client policies.
func TestForClient(t *testing.T) {
	p, err := policy.ForClient("p256_mlkem768")
	require.NoError(t, err)
	assert.Equal(t, []tls.CurveID{tls.SecP256r1MLKEM768}, p.Curves())

	_, err = policy.ForClient("mlkem768")
	assert.ErrorIs(t, err, qerrors.ErrNoNativeAlgorithm)
}

// TestServerTLSConfig tests version pinning and certificate restriction.
func TestServerTLSConfig(t *testing.T) {
	creds, err := credentials.Generate("p256")
	require.NoError(t, err)

	cfg, err := policy.Default().ServerTLSConfig(creds.TLSCertificate())
	require.NoError(t, err)

	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, []tls.SignatureScheme{tls.ECDSAWithP256AndSHA256}, cfg.Certificates[0].SupportedSignatureAlgorithms)

	// An ed25519 key cannot sign with an ECDSA-only policy.
	edCreds, err := credentials.Generate("ed25519")
	require.NoError(t, err)
	p, err := policy.Parse("x25519_mlkem768", "ECDSA+SHA256")
	require.NoError(t, err)
	_, err = p.ServerTLSConfig(edCreds.TLSCertificate())
	require.Error(t, err)
	assert.True(t, qerrors.IsSetup(err))
}

// TestSessionTicketKey tests that the ticket key is stable.
func TestSessionTicketKey(t *testing.T) {
	assert.Equal(t, policy.SessionTicketKey(), policy.SessionTicketKey())
	assert.NotEqual(t, [32]byte{}, policy.SessionTicketKey())
}

// handshake runs a server and client handshake over a loopback TCP pair.
func handshake(t *testing.T, server, client *tls.Config) (tls.ConnectionState, error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srvDone := make(chan struct{})
	go func() {
		defer close(srvDone)
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		_ = tls.Server(raw, server).HandshakeContext(context.Background())
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	cli := tls.Client(raw, client)
	err = cli.HandshakeContext(context.Background())
	_ = raw.Close()
	<-srvDone
	return cli.ConnectionState(), err
}

// TestHandshakeNegotiatesHybridGroup tests an end-to-end handshake per native group.
func TestHandshakeNegotiatesHybridGroup(t *testing.T) {
	creds, err := credentials.Generate("p256")
	require.NoError(t, err)
	serverCfg, err := policy.Default().ServerTLSConfig(creds.TLSCertificate())
	require.NoError(t, err)

	tests := []struct {
		group string
		curve tls.CurveID
	}{
		{"x25519_mlkem768", tls.X25519MLKEM768},
		{"p256_mlkem768", tls.SecP256r1MLKEM768},
		{"p384_mlkem1024", tls.SecP384r1MLKEM1024},
	}

	for _, tt := range tests {
		t.Run(tt.group, func(t *testing.T) {
			cp, err := policy.ForClient(tt.group)
			require.NoError(t, err)

			state, err := handshake(t, serverCfg, cp.ClientTLSConfig(constants.CertCommonName))
			require.NoError(t, err)
			assert.Equal(t, uint16(tls.VersionTLS13), state.Version)
			assert.Equal(t, tt.curve, state.CurveID)
		})
	}
}

// TestHandshakeRejectsPeerKey tests the client-side key type check.
func TestHandshakeRejectsPeerKey(t *testing.T) {
	creds, err := credentials.Generate("ed25519")
	require.NoError(t, err)
	serverCfg, err := policy.Default().ServerTLSConfig(creds.TLSCertificate())
	require.NoError(t, err)

	cp, err := policy.Parse("x25519_mlkem768", "ECDSA+SHA256:RSA-PSS+SHA256")
	require.NoError(t, err)

	_, err = handshake(t, serverCfg, cp.ClientTLSConfig(constants.CertCommonName))
	require.Error(t, err)
	assert.ErrorIs(t, err, qerrors.ErrPeerKeyRejected)
}
