package cert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verification errors.
var (
	ErrBadRule        = errors.New("invalid verification rule")
	ErrPeerRejected   = errors.New("peer certificate rejected")
	ErrCertExpired    = errors.New("certificate is outside its validity period")
	ErrChainUntrusted = errors.New("certificate chain is not trusted")
)

// Rule is one peer-verification alternative. A peer certificate
// matches a rule when every constraint of the rule holds.
type Rule struct {
	// CheckValid requires the peer chain to verify against the
	// configured trust roots. Enabled by default.
	CheckValid bool

	// CheckUnexpired requires the peer leaf to be inside its validity
	// period. Enabled by default.
	CheckUnexpired bool

	// CN, O and OU, when non-empty, must equal the corresponding
	// subject field of the peer leaf.
	CN string
	O  string
	OU string
}

// defaultRule is applied when no verification rules are configured.
var defaultRule = Rule{CheckValid: true, CheckUnexpired: true}

// RuleSet holds the peer-verification alternatives of a policy. A
// peer is accepted if any rule in the set matches.
type RuleSet struct {
	rules []Rule
}

// ParseVerifyRules parses the rule encoding used across the plugin
// family: each entry is a comma-separated list of constraints of the
// form Check.Valid=0|1, Check.Unexpired=0|1, CN=<name>, O=<org> or
// OU=<unit>. Multiple entries are alternatives.
func ParseVerifyRules(rules [][]byte) (*RuleSet, error) {
	rs := &RuleSet{}
	for _, raw := range rules {
		rule := defaultRule
		for _, field := range strings.Split(string(raw), ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			name, value, ok := strings.Cut(field, "=")
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrBadRule, field)
			}
			switch name {
			case "Check.Valid":
				b, err := parseRuleBool(value)
				if err != nil {
					return nil, fmt.Errorf("%w: %q", ErrBadRule, field)
				}
				rule.CheckValid = b
			case "Check.Unexpired":
				b, err := parseRuleBool(value)
				if err != nil {
					return nil, fmt.Errorf("%w: %q", ErrBadRule, field)
				}
				rule.CheckUnexpired = b
			case "CN":
				rule.CN = value
			case "O":
				rule.O = value
			case "OU":
				rule.OU = value
			default:
				return nil, fmt.Errorf("%w: unknown constraint %q", ErrBadRule, name)
			}
		}
		rs.rules = append(rs.rules, rule)
	}
	return rs, nil
}

func parseRuleBool(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, ErrBadRule
	}
}

// Rules returns the configured alternatives, or the default rule when
// none were configured.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil || len(rs.rules) == 0 {
		return []Rule{defaultRule}
	}
	return rs.rules
}

// NeedsChainVerification reports whether any alternative requires the
// peer chain to verify against the trust roots. Backends skip chain
// building entirely when no rule asks for it.
func (rs *RuleSet) NeedsChainVerification() bool {
	for _, r := range rs.Rules() {
		if r.CheckValid {
			return true
		}
	}
	return false
}

// Match checks a peer leaf certificate against the rule set. chainOK
// reports whether the peer chain verified against the trust roots; it
// is only consulted by rules with CheckValid set. Match returns nil if
// any alternative accepts the peer.
func (rs *RuleSet) Match(leaf *x509.Certificate, chainOK bool, now time.Time) error {
	if leaf == nil {
		return ErrPeerRejected
	}

	var lastErr error
	for _, r := range rs.Rules() {
		if err := matchRule(r, leaf, chainOK, now); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = ErrPeerRejected
	}
	return lastErr
}

func matchRule(r Rule, leaf *x509.Certificate, chainOK bool, now time.Time) error {
	if r.CheckValid && !chainOK {
		return ErrChainUntrusted
	}
	if r.CheckUnexpired && (now.Before(leaf.NotBefore) || now.After(leaf.NotAfter)) {
		return ErrCertExpired
	}
	if r.CN != "" && leaf.Subject.CommonName != r.CN {
		return fmt.Errorf("%w: CN %q", ErrPeerRejected, leaf.Subject.CommonName)
	}
	if r.O != "" && !containsString(leaf.Subject.Organization, r.O) {
		return fmt.Errorf("%w: O %v", ErrPeerRejected, leaf.Subject.Organization)
	}
	if r.OU != "" && !containsString(leaf.Subject.OrganizationalUnit, r.OU) {
		return fmt.Errorf("%w: OU %v", ErrPeerRejected, leaf.Subject.OrganizationalUnit)
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
