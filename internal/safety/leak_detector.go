// Package safety flags secrets in generated text. Drafts are written to the
// target directory, the stream and the journal, so a key the model echoes
// back would otherwise spread to all three.
package safety

import (
	"regexp"
)

// Leak describes one suspected secret.
type Leak struct {
	Kind   string
	Sample string // first characters only
}

var leakPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{
		re:   regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
		kind: "API key",
	},
	{
		re:   regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`),
		kind: "Bearer token",
	},
	{
		re:   regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
		kind: "Google API key",
	},
	{
		re:   regexp.MustCompile(`sk-(ant-)?[A-Za-z0-9_\-]{20,}`),
		kind: "OpenAI or Anthropic API key",
	},
	{
		re:   regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE\s+KEY-----`),
		kind: "private key",
	},
	{
		re:   regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*"?[^\s"]{8,}"?`),
		kind: "password",
	},
}

// ScanSecrets reports suspected secrets in text without modifying it. At most
// three matches per kind are reported.
func ScanSecrets(text string) []Leak {
	if text == "" {
		return nil
	}

	var leaks []Leak
	for _, pat := range leakPatterns {
		for _, match := range pat.re.FindAllString(text, 3) {
			sample := match
			if len(sample) > 8 {
				sample = sample[:8] + "..."
			}
			leaks = append(leaks, Leak{Kind: pat.kind, Sample: sample})
		}
	}
	return leaks
}

// Kinds returns the distinct kinds in leaks, in order of first appearance.
func Kinds(leaks []Leak) []string {
	seen := make(map[string]bool, len(leaks))
	var out []string
	for _, l := range leaks {
		if !seen[l.Kind] {
			seen[l.Kind] = true
			out = append(out, l.Kind)
		}
	}
	return out
}
