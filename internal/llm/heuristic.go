package llm

import (
	"regexp"
	"strings"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

var (
	ticketRe = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)
	urlRe    = regexp.MustCompile(`https?://[^\s]+`)
)

var knownSites = []string{"jira", "github", "salesforce", "confluence", "zendesk"}

// heuristicParse is the keyword fallback used when the sidecar is
// unreachable. It is deliberately coarse: an unrecognized prompt comes back
// with an empty site, which routes to the agent.
func heuristicParse(prompt string) *models.Intent {
	lower := strings.ToLower(prompt)

	intent := &models.Intent{Variables: map[string]string{}}
	for _, site := range knownSites {
		if strings.Contains(lower, site) {
			intent.Site = site
			break
		}
	}

	switch {
	case containsAny(lower, "export", "download", "extract"):
		intent.IntentTag = "export"
	case containsAny(lower, "create", "file", "open a"):
		intent.IntentTag = "create"
	case containsAny(lower, "navigate", "go to", "visit", "open"):
		intent.IntentTag = "navigate"
	case containsAny(lower, "search", "find", "look up"):
		intent.IntentTag = "search"
	default:
		intent.IntentTag = "general"
	}

	if m := ticketRe.FindString(prompt); m != "" {
		intent.Variables["ticketId"] = m
	}
	if m := urlRe.FindString(prompt); m != "" {
		intent.Variables["url"] = m
	}
	return intent
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
