// Package testcerts generates throwaway certificate authorities and
// leaf certificates as PEM bundles for package tests and the demo
// binary. Nothing here is suitable for production use.
package testcerts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// Material is a generated CA plus one leaf certificate, ready to feed
// to policy setters.
type Material struct {
	// CAPEM is the CA certificate bundle (the trust roots).
	CAPEM []byte

	// ChainPEM is the leaf-first certificate chain bundle.
	ChainPEM []byte

	// KeyPEM is the leaf's unencrypted private key bundle.
	KeyPEM []byte

	// CACert and CAKey allow issuing further leaves from the same CA.
	CACert *x509.Certificate
	CAKey  *ecdsa.PrivateKey
}

// Generate creates a fresh CA and one leaf certificate with the given
// common name and DNS names.
func Generate(cn string, dnsNames ...string) (*Material, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   cn + " Test CA",
			Organization: []string{"plugtls test"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("create CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	m := &Material{
		CAPEM:  encodeCert(caDER),
		CACert: caCert,
		CAKey:  caKey,
	}
	m.ChainPEM, m.KeyPEM, err = m.Issue(cn, dnsNames...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Issue creates another leaf certificate signed by the material's CA
// and returns its chain and key bundles.
func (m *Material) Issue(cn string, dnsNames ...string) (chainPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate leaf key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"plugtls test"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, m.CACert, &key.PublicKey, m.CAKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create leaf certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal leaf key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	// Leaf first, then the CA closing the chain.
	chainPEM = append(encodeCert(der), m.CAPEM...)
	return chainPEM, keyPEM, nil
}

// EncryptKey re-encodes an EC key bundle as a legacy DEK-Info
// encrypted PEM block protected by password.
func EncryptKey(keyPEM []byte, password string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key bundle")
	}
	enc, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte(password), x509.PEMCipherAES256) //nolint:staticcheck // exercising the legacy encrypted-bundle path
	if err != nil {
		return nil, fmt.Errorf("encrypt key block: %w", err)
	}
	return pem.EncodeToMemory(enc), nil
}

func encodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
