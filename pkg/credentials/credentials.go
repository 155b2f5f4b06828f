// Package credentials generates the ephemeral TLS identity used for a
// single connection. Keys live for one invocation only: there is no
// keystore, no caching and no revocation. The control channel is the
// root of trust, so all that matters is that the bytes delivered over
// it match the bytes presented in the QUIC handshake.
package credentials

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/crazyscot/qcp-sub001/pkg/protocol"
	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

// Credentials is an ephemeral self-signed EC P-256 identity.
type Credentials struct {
	PrivateKey *ecdsa.PrivateKey
	// CertDER is the self-signed X.509 certificate.
	CertDER []byte
	// SpkiDER is the RFC 7250 SubjectPublicKeyInfo projection.
	SpkiDER []byte
	// Hostname is the SAN baked into the certificate.
	Hostname string
}

// Generate creates a fresh identity with a single DNS SAN equal to the
// local host name.
func Generate() (*Credentials, error) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown.host.invalid"
	}
	return generateFor(hostname)
}

func generateFor(hostname string) (*Credentials, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostname},
		DNSNames:              []string{hostname},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(14 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	spkiDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal spki: %w", err)
	}

	return &Credentials{
		PrivateKey: key,
		CertDER:    certDER,
		SpkiDER:    spkiDER,
		Hostname:   hostname,
	}, nil
}

// TLSCertificate returns the identity in the form crypto/tls wants.
func (c *Credentials) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{c.CertDER},
		PrivateKey:  c.PrivateKey,
	}
}

// TypeTagFor selects the credentials type for a connection. An explicit
// configuration (anything but Any) wins; otherwise raw public keys are
// used when the negotiated level supports them, falling back to X.509.
func TypeTagFor(compat protocol.Compatibility, configured protocol.CredentialsType) protocol.CredentialsType {
	if configured != protocol.CredentialsAny {
		return configured
	}
	if compat.Supports(protocol.FeatureCmsgSmsg2) {
		return protocol.CredentialsRawPublicKey
	}
	return protocol.CredentialsX509
}

// ToTaggedData packages the credentials for a control message,
// selecting the payload per TypeTagFor.
func (c *Credentials) ToTaggedData(compat protocol.Compatibility, configured protocol.CredentialsType) (wire.TaggedData, error) {
	tag := TypeTagFor(compat, configured)
	switch tag {
	case protocol.CredentialsX509:
		return wire.Tagged(uint64(tag), wire.BytesVariant(c.CertDER)), nil
	case protocol.CredentialsRawPublicKey:
		if !compat.Supports(protocol.FeatureCmsgSmsg2) {
			return wire.TaggedData{}, fmt.Errorf("RawPublicKey credentials configured, but not supported by remote")
		}
		return wire.Tagged(uint64(tag), wire.BytesVariant(c.SpkiDER)), nil
	}
	return wire.TaggedData{}, fmt.Errorf("cannot send credentials of type %s", tag)
}

// SpkiFromCert extracts the SubjectPublicKeyInfo from a certificate in
// DER form, for pinning raw-public-key peers.
func SpkiFromCert(certDER []byte) ([]byte, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse peer certificate: %w", err)
	}
	return cert.RawSubjectPublicKeyInfo, nil
}
