// Package cert parses the opaque security-material bundles handed to
// a policy: PEM certificate and key bundles, PKCS#12 archives, and
// peer-verification rule sets.
package cert

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// Bundle parsing errors.
var (
	ErrInvalidPEM     = errors.New("invalid PEM data")
	ErrNoCertificate  = errors.New("no certificate in bundle")
	ErrNoPrivateKey   = errors.New("no private key in bundle")
	ErrUnsupportedKey = errors.New("unsupported private key type")
	ErrBadPassword    = errors.New("wrong or missing key password")
)

// ParseCertBundle parses a concatenated PEM certificate bundle into an
// ordered certificate list, leaf first. Non-certificate blocks (such
// as key material carried in the same bundle) are ignored.
func ParseCertBundle(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificate
	}
	return certs, nil
}

// NewPool parses a PEM CA bundle into a certificate pool.
func NewPool(data []byte) (*x509.CertPool, error) {
	certs, err := ParseCertBundle(data)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool, nil
}

// ParseKeyBundle parses a PEM bundle and returns the first private key
// it contains. Certificate blocks interleaved in the bundle are
// ignored. password decrypts legacy DEK-Info encrypted blocks and may
// be empty for unencrypted keys.
func ParseKeyBundle(data []byte, password string) (crypto.PrivateKey, error) {
	rest := data
	sawBlock := false
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		sawBlock = true
		if block.Type == "CERTIFICATE" {
			continue
		}

		der := block.Bytes
		if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy encrypted PEM is part of the bundle contract
			if password == "" {
				return nil, ErrBadPassword
			}
			dec, err := x509.DecryptPEMBlock(block, []byte(password)) //nolint:staticcheck
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadPassword, err)
			}
			der = dec
		}

		key, err := parseKeyDER(block.Type, der)
		if err != nil {
			return nil, err
		}
		return key, nil
	}
	if !sawBlock {
		return nil, ErrInvalidPEM
	}
	return nil, ErrNoPrivateKey
}

// parseKeyDER parses a DER-encoded private key according to its PEM
// block type.
func parseKeyDER(blockType string, der []byte) (crypto.PrivateKey, error) {
	switch blockType {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(der)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKey, blockType)
	}
}
