package gotls

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plugtls/plugtls-go/pkg/boundary"
	"github.com/plugtls/plugtls-go/pkg/cert"
	"github.com/plugtls/plugtls-go/pkg/log"
)

// policy implements boundary.Policy over parsed PEM/PKCS#12 material.
// All setters replace the previously installed material of their
// category; the first created session freezes the policy for good.
type policy struct {
	rc   *boundary.RefCount
	sink log.Logger

	mu     sync.Mutex
	frozen bool

	caPool *x509.CertPool
	chain  []*x509.Certificate
	key    crypto.PrivateKey
	rules  *cert.RuleSet
}

func newPolicy(sink log.Logger) *policy {
	if sink == nil {
		sink = log.NoopLogger{}
	}
	p := &policy{
		sink:  sink,
		rules: &cert.RuleSet{},
	}
	p.rc = boundary.NewRefCount(nil)
	return p
}

func (p *policy) Acquire() { p.rc.Acquire() }
func (p *policy) Release() { p.rc.Release() }

// reject logs a configuration rejection and returns err unchanged.
func (p *policy) reject(op string, err error) error {
	p.sink.Log(log.NewEvent("policy_config_rejected", "", true,
		"op", op,
		"reason", err.Error(),
	))
	return err
}

// guard returns ErrPolicyFrozen for setters invoked after the first
// session was created. The caller holds p.mu.
func (p *policy) guardLocked(op string) error {
	if p.frozen {
		return p.reject(op, boundary.ErrPolicyFrozen)
	}
	return nil
}

func (p *policy) SetCABundle(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guardLocked("set_ca_bundle"); err != nil {
		return err
	}

	pool, err := cert.NewPool(data)
	if err != nil {
		return p.reject("set_ca_bundle", fmt.Errorf("%w: %v", boundary.ErrBadMaterial, err))
	}
	p.caPool = pool
	return nil
}

func (p *policy) SetCertChain(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guardLocked("set_cert_chain"); err != nil {
		return err
	}

	chain, err := cert.ParseCertBundle(data)
	if err != nil {
		return p.reject("set_cert_chain", fmt.Errorf("%w: %v", boundary.ErrBadMaterial, err))
	}
	p.chain = chain
	return nil
}

func (p *policy) SetPrivateKey(data []byte, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guardLocked("set_private_key"); err != nil {
		return err
	}

	key, err := cert.ParseKeyBundle(data, password)
	if errors.Is(err, cert.ErrInvalidPEM) {
		// Not PEM at all: accept a PKCS#12 archive, ignoring any
		// certificate material it carries.
		var p12Err error
		key, _, p12Err = cert.ParsePKCS12(data, password)
		if p12Err != nil {
			err = p12Err
		} else {
			err = nil
		}
	}
	if err != nil {
		return p.reject("set_private_key", fmt.Errorf("%w: %v", boundary.ErrBadMaterial, err))
	}
	p.key = key
	return nil
}

func (p *policy) SetVerifyPeers(rules [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guardLocked("set_verify_peers"); err != nil {
		return err
	}

	rs, err := cert.ParseVerifyRules(rules)
	if err != nil {
		return p.reject("set_verify_peers", fmt.Errorf("%w: %v", boundary.ErrBadMaterial, err))
	}
	p.rules = rs
	return nil
}

// CreateSession builds a session over the policy's material. The first
// successful call freezes the policy: the material a live session
// depends on can never change underneath it.
func (p *policy) CreateSession(cfg boundary.SessionConfig) (boundary.Session, error) {
	if cfg.Send == nil || cfg.Recv == nil {
		return nil, errors.New("send and receive callbacks are required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tlsConfig, err := p.tlsConfigLocked(cfg)
	if err != nil {
		p.sink.Log(log.NewEvent("session_create_failed", cfg.LogID, true,
			"reason", err.Error(),
		))
		return nil, err
	}

	p.frozen = true

	logID := cfg.LogID
	if logID == "" {
		logID = uuid.NewString()
	}

	// The session keeps the policy (and its material) alive.
	p.rc.Acquire()
	s := newSession(p, tlsConfig, cfg, logID)

	p.sink.Log(log.NewEvent("session_created", logID, false,
		"role", roleName(cfg.Client),
		"server_name", cfg.ServerName,
	))
	return s, nil
}

// tlsConfigLocked assembles the crypto/tls configuration for one
// session. Verification always runs through the policy's rule set so
// the rule semantics are identical for both roles.
func (p *policy) tlsConfigLocked(cfg boundary.SessionConfig) (*tls.Config, error) {
	if (p.key == nil) != (len(p.chain) == 0) {
		if p.key == nil {
			return nil, errors.New("certificate chain is set but no private key")
		}
		return nil, errors.New("private key is set but no certificate chain")
	}
	if !cfg.Client && p.key == nil {
		return nil, errors.New("server sessions require a certificate chain and private key")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,

		// Verification runs in VerifyPeerCertificate below; the
		// built-in hostname check does not understand rule sets.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: p.verifyPeerFunc(cfg),
	}

	if p.key != nil {
		leaf := p.chain[0]
		der := make([][]byte, 0, len(p.chain))
		for _, c := range p.chain {
			der = append(der, c.Raw)
		}
		tlsConfig.Certificates = []tls.Certificate{{
			Certificate: der,
			PrivateKey:  p.key,
			Leaf:        leaf,
		}}
	}

	if cfg.Client {
		tlsConfig.ServerName = cfg.ServerName
		if tlsConfig.ServerName == "" {
			// SNI requires some name; verification does not rely on it.
			tlsConfig.ServerName = "localhost"
		}
	} else if p.caPool != nil {
		tlsConfig.ClientAuth = tls.RequireAnyClientCert
	}

	return tlsConfig, nil
}

// verifyPeerFunc builds the VerifyPeerCertificate callback applying
// the policy's trust roots and verification rules.
func (p *policy) verifyPeerFunc(cfg boundary.SessionConfig) func([][]byte, [][]*x509.Certificate) error {
	pool := p.caPool
	rules := p.rules
	serverName := cfg.ServerName
	isClient := cfg.Client

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			if !isClient && !rules.NeedsChainVerification() {
				return nil
			}
			return errors.New("no peer certificate presented")
		}

		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("parse peer certificate: %w", err)
		}
		intermediates := x509.NewCertPool()
		for _, raw := range rawCerts[1:] {
			ic, err := x509.ParseCertificate(raw)
			if err != nil {
				continue
			}
			intermediates.AddCert(ic)
		}

		chainOK := false
		if pool != nil && rules.NeedsChainVerification() {
			opts := x509.VerifyOptions{
				Roots:         pool,
				Intermediates: intermediates,
				CurrentTime:   time.Now(),
				KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
			}
			if isClient && serverName != "" {
				opts.DNSName = serverName
			}
			_, verifyErr := leaf.Verify(opts)
			chainOK = verifyErr == nil
		}

		return rules.Match(leaf, chainOK, time.Now())
	}
}

func roleName(client bool) string {
	if client {
		return "client"
	}
	return "server"
}

// Compile-time interface satisfaction check.
var _ boundary.Policy = (*policy)(nil)
