package transport

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/crazyscot/qcp-sub001/pkg/credentials"
	"github.com/crazyscot/qcp-sub001/pkg/protocol"
)

// ErrCertificateMismatch is returned when the identity presented in the
// QUIC handshake does not byte-match the identity delivered over the
// control channel. This is the man-in-the-middle tripwire: the control
// channel is the root of trust, so any substitution fails here.
var ErrCertificateMismatch = errors.New("invalid peer certificate")

// alpnProtocol is the ALPN token both sides require.
const alpnProtocol = "qcp"

// PeerPin is the identity to verify the remote against.
type PeerPin struct {
	// Type selects whether Bytes is a whole certificate or an RFC 7250
	// SubjectPublicKeyInfo.
	Type protocol.CredentialsType
	// Bytes were delivered over the control channel.
	Bytes []byte
}

// Verify checks a presented leaf certificate (DER) against the pin.
//
// For X509 pins the whole certificate must byte-match. For raw public
// key pins the leaf's SubjectPublicKeyInfo must byte-match: the TLS
// stack always carries an X.509 envelope, but the key inside it is the
// pinned identity, so a substituted certificate over the same key is
// accepted and a substituted key is not.
func (p PeerPin) Verify(leafDER []byte) error {
	switch p.Type {
	case protocol.CredentialsX509:
		if bytes.Equal(leafDER, p.Bytes) {
			return nil
		}
	case protocol.CredentialsRawPublicKey:
		spki, err := credentials.SpkiFromCert(leafDER)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCertificateMismatch, err)
		}
		if bytes.Equal(spki, p.Bytes) {
			return nil
		}
	default:
		return fmt.Errorf("%w: unusable credentials type %s", ErrCertificateMismatch, p.Type)
	}
	return fmt.Errorf("%w: presented %s identity does not match control channel", ErrCertificateMismatch, p.Type)
}

// verifyPeer builds the VerifyPeerCertificate callback for a pin.
func verifyPeer(pin PeerPin) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: peer presented no certificate", ErrCertificateMismatch)
		}
		return pin.Verify(rawCerts[0])
	}
}

// ClientTLS builds the client-side TLS configuration: our ephemeral
// identity as the client certificate, the pinned server identity as the
// only acceptable peer, TLS 1.3 only.
//
// Verification is the pin alone (the usual chain building is disabled):
// a self-signed ephemeral certificate has no chain, and the pin is
// stronger than any PKI statement.
func ClientTLS(creds *credentials.Credentials, pin PeerPin, serverName string) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{creds.TLSCertificate()},
		MinVersion:            tls.VersionTLS13,
		NextProtos:            []string{alpnProtocol},
		ServerName:            serverName,
		InsecureSkipVerify:    true, // replaced by the pin below
		VerifyPeerCertificate: verifyPeer(pin),
	}
}

// ServerTLS mirrors ClientTLS for the server role, requiring a client
// certificate and pinning it.
func ServerTLS(creds *credentials.Credentials, pin PeerPin) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{creds.TLSCertificate()},
		MinVersion:            tls.VersionTLS13,
		NextProtos:            []string{alpnProtocol},
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: verifyPeer(pin),
	}
}
