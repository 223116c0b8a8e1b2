// Package sample bundles a minimal demonstration application: a QUIC echo
// server and client wired to the migctl control plane, adapted from the
// teacher's Wrapper/Server/Wrapper and Wrapper/Client/cWrapper demo apps.
// It exercises github.com/quic-go/quic-go directly rather than through the
// engine.Engine interface, since quic-go owns its own packet I/O loop
// internally and cannot be driven through that contract (see SPEC_FULL.md's
// domain-stack notes).
package sample

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"time"
)

// DefaultALPN is the protocol name negotiated by the sample server/client.
const DefaultALPN = "quicsockloop/1"

// ServerTLSConfig generates a throwaway self-signed certificate, suitable
// for the demonstration app only — never for production use.
func ServerTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{DefaultALPN}}, nil
}

// ClientTLSConfig skips verification since the server cert is self-signed
// and unpinned; fine for the demo, never for production use.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{DefaultALPN}}
}
