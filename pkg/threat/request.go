package threat

import "strings"

// Tier is a named usage ceiling for an identity
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ParseTier normalizes a tier string, defaulting unknown values to free.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPremium:
		return TierPremium
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// Identity is supplied by the identity/session collaborator and trusted as given.
type Identity struct {
	ID            string `json:"id"`
	Tier          Tier   `json:"tier"`
	Authenticated bool   `json:"authenticated"`
}

// EmailRequest is a normalized inbound email to be scored.
type EmailRequest struct {
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Sender  string   `json:"sender"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Links   []string `json:"links,omitempty"`
}

// Content returns the scannable text of the email.
func (e EmailRequest) Content() string {
	var b strings.Builder
	b.WriteString(e.Subject)
	b.WriteString("\n")
	b.WriteString(e.Body)
	return b.String()
}

// Empty reports whether there is nothing to scan.
func (e EmailRequest) Empty() bool {
	return strings.TrimSpace(e.Subject) == "" && strings.TrimSpace(e.Body) == "" &&
		len(e.Links) == 0
}

// LinkRequest is a standalone URL to be scored.
type LinkRequest struct {
	URL     string `json:"url"`
	Context string `json:"context,omitempty"`
}

// ScanRequest wraps either an email or a link; exactly one must be set.
type ScanRequest struct {
	Identity Identity      `json:"identity"`
	Email    *EmailRequest `json:"email,omitempty"`
	Link     *LinkRequest  `json:"link,omitempty"`
	// SkipAI forces the deterministic heuristic path for this request.
	SkipAI bool `json:"skip_ai,omitempty"`
}

// Content returns the scannable text of whichever payload is present.
func (r ScanRequest) Content() string {
	if r.Email != nil {
		return r.Email.Content()
	}
	if r.Link != nil {
		return r.Link.URL + "\n" + r.Link.Context
	}
	return ""
}

// Validate rejects structurally invalid or oversized requests.
// This is the only caller-visible failure in the scoring path.
func (r ScanRequest) Validate(maxContentBytes int) error {
	if r.Email == nil && r.Link == nil {
		return NewInputError("request must contain an email or a link")
	}
	if r.Email != nil && r.Link != nil {
		return NewInputError("request must contain exactly one of email or link")
	}
	if r.Email != nil && r.Email.Empty() {
		return NewInputError("email request has no content to scan")
	}
	if r.Link != nil && strings.TrimSpace(r.Link.URL) == "" {
		return NewInputError("link request requires a url")
	}
	if maxContentBytes > 0 && len(r.Content()) > maxContentBytes {
		return NewInputError("content exceeds maximum size")
	}
	return nil
}
