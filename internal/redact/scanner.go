// Package redact keeps the owner's secrets out of outbound mail. Message
// content is scanned for credential material before it is sealed; anything
// that looks like a secret is masked in place.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PatternType identifies the category of secret found.
type PatternType string

const (
	PatternCred       PatternType = "CRED"        // key=value where the key names a secret
	PatternPrivateKey PatternType = "PRIVATE_KEY" // PEM private key block
	PatternAWSKey     PatternType = "AWS_KEY"     // AWS access key id
	PatternBearer     PatternType = "BEARER"      // Authorization bearer token
	PatternGitHub     PatternType = "GITHUB_PAT"  // GitHub personal access token
)

// Match is a single occurrence of secret material in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

var (
	// key=value or key: value where the key suggests a secret.
	credKVRe = regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api_key|apikey|private_key|auth)[ \t]*[=:][ \t]*\S+)`)

	// PEM private key blocks, header through footer.
	pemRe = regexp.MustCompile(`(?s)(-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----)`)

	// AWS access key ids.
	awsKeyRe = regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`)

	// HTTP Authorization bearer values.
	bearerRe = regexp.MustCompile(`(?i)\b(bearer[ \t]+[A-Za-z0-9\-._~+/]{16,}=*)`)

	// GitHub tokens (classic and fine-grained).
	githubRe = regexp.MustCompile(`\b((?:ghp|gho|ghs|ghr|github_pat)_[A-Za-z0-9_]{20,})\b`)
)

// Scan finds all secret material in text, deduplicated and sorted by
// position.
func Scan(text string) []Match {
	seen := make(map[string]bool)
	var matches []Match

	add := func(typ PatternType, value string, start int) {
		value = strings.TrimRight(value, ".,;:\"'`)}]")
		if value == "" || seen[value] {
			return
		}
		seen[value] = true
		matches = append(matches, Match{Type: typ, Value: value, Start: start, End: start + len(value)})
	}

	for _, loc := range pemRe.FindAllStringIndex(text, -1) {
		add(PatternPrivateKey, text[loc[0]:loc[1]], loc[0])
	}
	for _, loc := range credKVRe.FindAllStringIndex(text, -1) {
		add(PatternCred, text[loc[0]:loc[1]], loc[0])
	}
	for _, loc := range awsKeyRe.FindAllStringIndex(text, -1) {
		add(PatternAWSKey, text[loc[0]:loc[1]], loc[0])
	}
	for _, loc := range bearerRe.FindAllStringIndex(text, -1) {
		add(PatternBearer, text[loc[0]:loc[1]], loc[0])
	}
	for _, loc := range githubRe.FindAllStringIndex(text, -1) {
		add(PatternGitHub, text[loc[0]:loc[1]], loc[0])
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches
}

// Apply masks every secret found in text. Longer matches are replaced
// first so a credential inside a PEM block does not split the mask.
func Apply(text string) (string, []Match) {
	matches := Scan(text)
	if len(matches) == 0 {
		return text, nil
	}

	byLength := make([]Match, len(matches))
	copy(byLength, matches)
	sort.Slice(byLength, func(i, j int) bool {
		return len(byLength[i].Value) > len(byLength[j].Value)
	})

	out := text
	for _, m := range byLength {
		out = strings.ReplaceAll(out, m.Value, fmt.Sprintf("[REDACTED:%s]", m.Type))
	}
	return out, matches
}
