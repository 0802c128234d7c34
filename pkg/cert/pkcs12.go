package cert

import (
	"crypto"
	"crypto/x509"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// ParsePKCS12 decodes a DER-encoded PKCS#12 archive into a private key
// and certificate chain, leaf first. PKCS#12 is accepted as an
// alternate bundle encoding for hosts whose material comes from
// keystore exports rather than PEM files.
func ParsePKCS12(data []byte, password string) (crypto.PrivateKey, []*x509.Certificate, error) {
	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, nil, fmt.Errorf("decode PKCS#12 archive: %w", err)
	}
	return key, []*x509.Certificate{leaf}, nil
}
