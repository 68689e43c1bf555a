package origin

import (
	"strings"

	"github.com/xrash/smetrics"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// confusables maps common Cyrillic and Greek look-alike letters to the
// ASCII letter they imitate.
var confusables = strings.NewReplacer(
	"а", "a", "е", "e", "о", "o", "р", "p", "с", "c", "у", "y", "х", "x", "і", "i", "ј", "j", "ѕ", "s",
	"α", "a", "ο", "o", "ι", "i", "κ", "k", "ν", "v",
)

// foldConfusables normalizes a hostname the way spec §4.5 step 4 requires:
// full-width forms are folded to halfwidth and NFKC-normalized, the result
// is lowercased, and common Cyrillic/Greek look-alike letters are replaced
// by their ASCII counterparts.
func foldConfusables(host string) string {
	folded := width.Fold.String(host)
	folded = norm.NFKC.String(folded)
	return confusables.Replace(strings.ToLower(folded))
}

// asciiForm returns the IDNA/punycode ASCII form of host, or host unchanged
// if it cannot be converted (already ASCII, or malformed).
func asciiForm(host string) string {
	ascii, err := idna.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

// splitNameTLD splits a hostname's registrable-ish name from its last
// label (TLD), e.g. "metamask.io" -> ("metamask", "io"). Multi-label TLDs
// are not modeled; this is a heuristic for the masquerade checks below,
// not a public-suffix-list lookup.
func splitNameTLD(host string) (name, tld string) {
	idx := strings.LastIndex(host, ".")
	if idx < 0 {
		return host, ""
	}
	return host[:idx], host[idx+1:]
}

// isHomographOrPhishing implements spec §4.5 step 4: reject if the
// candidate origin's host is a confusable fold of a known domain while
// differing from it, or matches one of the named phishing heuristics
// (wrong TLD, hyphenated masquerade, near-miss edit distance).
func (v *Validator) isHomographOrPhishing(origin string) bool {
	host := hostOf(origin)
	if host == "" {
		return false
	}

	if !v.cfg.AllowInternationalDomains {
		if ascii := asciiForm(host); !isASCII(host) && ascii != host {
			// Non-ASCII candidate under a policy that forbids IDNs entirely.
			return true
		}
	}

	if len(v.cfg.KnownDomains) == 0 {
		return false
	}

	candidateFold := foldConfusables(host)
	candidateName, candidateTLD := splitNameTLD(candidateFold)

	for _, known := range v.cfg.KnownDomains {
		knownLower := strings.ToLower(known)
		if candidateFold == knownLower && host == knownLower {
			continue // exact match to a trusted domain, not a spoof
		}

		// Step 4a: confusable fold collapses to a known domain.
		if candidateFold == knownLower && host != knownLower {
			return true
		}

		knownName, knownTLD := splitNameTLD(knownLower)
		if knownName == "" {
			continue
		}

		// Step 4b: same name, different TLD (metamask.com vs metamask.io).
		if candidateName == knownName && candidateTLD != "" && candidateTLD != knownTLD {
			return true
		}

		// Step 4c: hyphenated masquerade (metamask-io.com, secure-metamask.io).
		if candidateFold != knownLower &&
			(strings.Contains(candidateFold, knownName+"-") || strings.Contains(candidateFold, "-"+knownName)) {
			return true
		}

		// Step 4d: near-miss edit distance, within 30% of the reference
		// name's length.
		if candidateTLD == knownTLD && candidateName != knownName {
			dist := smetrics.WagnerFischer(candidateName, knownName, 1, 1, 1)
			threshold := (len(knownName) * 30) / 100
			if dist > 0 && dist <= threshold {
				return true
			}
		}
	}
	return false
}
