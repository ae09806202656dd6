package threat

import (
	"regexp"
	"strings"

	"github.com/skworld/advocate/internal/model"
)

// Reason codes, one per signal. Reported in declaration order.
const (
	ReasonSolicitation      = "solicitation_pattern"
	ReasonCapabilityRequest = "unauthorized_capability_request"
	ReasonSuspiciousAttach  = "suspicious_attachment"
	ReasonExcessiveLinks    = "excessive_links"
	ReasonUrgencyPressure   = "urgency_pressure"
)

// signal is one independently weighted risk check.
type signal struct {
	code  string
	check func(msg model.ChatMessage) bool
}

var (
	solicitationRe = regexp.MustCompile(`(?i)\b(wire transfer|gift card|crypto wallet|seed phrase|send (me )?(money|funds|payment)|verify your account|claim your (prize|reward))\b`)
	capabilityRe   = regexp.MustCompile(`(?i)\b(grant me|give me|need) (full |admin |root )?(access|permission|control|credentials?)\b|\b(share|send) (your|the) (password|private key|token)\b`)
	urgencyRe      = regexp.MustCompile(`(?i)\b(urgent(ly)?|immediately|right now|within 24 hours|act now|last (chance|warning)|account will be (closed|suspended))\b`)
	linkRe         = regexp.MustCompile(`https?://\S+`)

	// Attachment indicators carried in open metadata by the file layer.
	executableExts = []string{".exe", ".scr", ".bat", ".cmd", ".js", ".vbs", ".jar", ".msi"}
)

const maxLinks = 3

// builtinSignals returns the signal set in a fixed order. Order matters:
// reason codes are reported in this order and tests rely on it.
func builtinSignals() []signal {
	return []signal{
		{ReasonSolicitation, func(m model.ChatMessage) bool {
			return solicitationRe.MatchString(m.Content)
		}},
		{ReasonCapabilityRequest, func(m model.ChatMessage) bool {
			return capabilityRe.MatchString(m.Content)
		}},
		{ReasonSuspiciousAttach, hasSuspiciousAttachment},
		{ReasonExcessiveLinks, func(m model.ChatMessage) bool {
			return len(linkRe.FindAllString(m.Content, maxLinks+1)) > maxLinks
		}},
		{ReasonUrgencyPressure, func(m model.ChatMessage) bool {
			return urgencyRe.MatchString(m.Content)
		}},
	}
}

func hasSuspiciousAttachment(m model.ChatMessage) bool {
	raw, ok := m.Metadata["attachments"]
	if !ok {
		return false
	}

	var names []string
	switch v := raw.(type) {
	case []string:
		names = v
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok {
				names = append(names, s)
			}
		}
	default:
		return false
	}

	for _, name := range names {
		lower := strings.ToLower(name)
		for _, ext := range executableExts {
			if strings.HasSuffix(lower, ext) {
				return true
			}
		}
		// Double extension hiding: report.pdf.exe already caught above;
		// also catch a claimed-safe extension followed by anything odd.
		if strings.Count(lower, ".") >= 2 && strings.Contains(lower, ".pdf.") {
			return true
		}
	}
	return false
}
