package heuristic

import (
	"strings"
	"testing"

	"github.com/moatsec/moat/pkg/patterns"
	"github.com/moatsec/moat/pkg/threat"
)

func newTestScorer() *Scorer {
	return NewScorer(patterns.Default(), threat.DefaultThresholds())
}

func hasCategory(inds []threat.Indicator, cat threat.IndicatorCategory) bool {
	for _, ind := range inds {
		if ind.Category == cat {
			return true
		}
	}
	return false
}

func TestPhishingEmailScoresHigh(t *testing.T) {
	s := newTestScorer()
	req := threat.EmailRequest{
		Subject: "URGENT: Verify Your Account Now",
		Body:    "Dear customer, click here to verify your account before it is suspended.",
		Sender:  "security@secure-bank-update.com",
	}

	inds := s.AnalyzeEmail(req)
	if len(inds) == 0 {
		t.Fatalf("expected indicators for phishing email")
	}
	if !hasCategory(inds, threat.CategoryCredentialRequest) {
		t.Fatalf("expected a credential_request indicator, got %+v", inds)
	}
	if !hasCategory(inds, threat.CategoryDomainPattern) {
		t.Fatalf("expected a domain_pattern indicator, got %+v", inds)
	}

	score := s.Score(inds)
	if score < 50 {
		t.Fatalf("expected score >= 50, got %.1f", score)
	}
	level := s.Thresholds().LevelFor(score)
	if level != threat.LevelSuspicious && level != threat.LevelMalicious {
		t.Fatalf("expected suspicious or malicious, got %s", level)
	}
}

func TestPlainBusinessEmailIsSafe(t *testing.T) {
	s := newTestScorer()
	req := threat.EmailRequest{
		Subject: "Quarterly report draft",
		Body:    "Hi team, the draft is ready for review. Let's sync on Tuesday morning.",
		Sender:  "sarah@example-partners.org",
	}

	inds := s.AnalyzeEmail(req)
	if len(inds) != 0 {
		t.Fatalf("expected zero indicators, got %+v", inds)
	}
	score := s.Score(inds)
	if score > 29 {
		t.Fatalf("expected score <= 29, got %.1f", score)
	}
	if s.Thresholds().LevelFor(score) != threat.LevelSafe {
		t.Fatalf("expected safe level")
	}
}

func TestEmptyEmailYieldsNothing(t *testing.T) {
	s := newTestScorer()
	if inds := s.AnalyzeEmail(threat.EmailRequest{}); len(inds) != 0 {
		t.Fatalf("expected zero indicators for empty email, got %+v", inds)
	}
	if got := s.Score(nil); got != 0 {
		t.Fatalf("expected score 0 for no indicators, got %.1f", got)
	}
}

func TestShortenedURLAloneIsSuspicious(t *testing.T) {
	s := newTestScorer()
	inds := s.AnalyzeURL("https://bit.ly/abc123", "")
	if !hasCategory(inds, threat.CategoryURLShortener) {
		t.Fatalf("expected url_shortener indicator, got %+v", inds)
	}
	score := s.Score(inds)
	if score < 30 {
		t.Fatalf("expected score >= 30 from shortener alone, got %.1f", score)
	}
}

func TestMalformedURLNeverErrors(t *testing.T) {
	s := newTestScorer()
	inds := s.AnalyzeURL("http://%zz^invalid", "")
	if len(inds) != 1 || inds[0].Category != threat.CategoryParseError {
		t.Fatalf("expected exactly one parse_error indicator, got %+v", inds)
	}
	if inds[0].Confidence > 0.3 {
		t.Fatalf("parse error should be low confidence, got %f", inds[0].Confidence)
	}
}

func TestURLCloakingHeuristics(t *testing.T) {
	s := newTestScorer()

	cases := []struct {
		name string
		url  string
		want threat.IndicatorCategory
	}{
		{"raw ip", "http://192.0.2.10/login", threat.CategoryURLCloaking},
		{"long host", "https://" + strings.Repeat("a", 41) + ".example.com/x", threat.CategoryURLCloaking},
		{"hyphens", "https://secure-login-verify-account-update.example.com", threat.CategoryURLCloaking},
		{"subdomains", "https://a.b.c.d.example.com", threat.CategoryURLCloaking},
		{"long query", "https://example.com/?" + strings.Repeat("k=v&", 40), threat.CategoryURLCloaking},
		{"long fragment", "https://example.com/#" + strings.Repeat("f", 60), threat.CategoryURLCloaking},
	}
	for _, c := range cases {
		inds := s.AnalyzeURL(c.url, "")
		if !hasCategory(inds, c.want) {
			t.Fatalf("%s: expected %s indicator, got %+v", c.name, c.want, inds)
		}
	}
}

func TestDomainSpoofDetection(t *testing.T) {
	s := newTestScorer()

	inds := s.AnalyzeEmail(threat.EmailRequest{
		Subject: "Receipt",
		Body:    "Thanks for your purchase.",
		Sender:  "billing@paypa1.com",
	})
	if !hasCategory(inds, threat.CategoryDomainSpoof) {
		t.Fatalf("expected domain_spoof for paypa1.com, got %+v", inds)
	}

	// The legitimate domain itself must not be flagged as a spoof.
	inds = s.AnalyzeEmail(threat.EmailRequest{
		Subject: "Receipt",
		Body:    "Thanks for your purchase.",
		Sender:  "service@paypal.com",
	})
	if hasCategory(inds, threat.CategoryDomainSpoof) {
		t.Fatalf("paypal.com itself flagged as spoof: %+v", inds)
	}
}

func TestReplyToMismatch(t *testing.T) {
	s := newTestScorer()
	inds := s.AnalyzeEmail(threat.EmailRequest{
		Subject: "Invoice",
		Body:    "See details.",
		Sender:  "accounts@example.com",
		ReplyTo: "accounts@elsewhere.net",
	})
	if !hasCategory(inds, threat.CategorySocialEngineering) {
		t.Fatalf("expected reply-to mismatch indicator, got %+v", inds)
	}
}

func TestScoreBoundsAndMonotonicity(t *testing.T) {
	s := newTestScorer()

	inds := []threat.Indicator{}
	prev := 0.0
	for i := 0; i < 40; i++ {
		inds = append(inds, threat.NewIndicator(
			threat.SourceHeuristic, threat.CategoryCredentialRequest, 0.8, "d", "e"))
		score := s.Score(inds)
		if score < 0 || score > 100 {
			t.Fatalf("score %.1f out of [0,100]", score)
		}
		if score < prev {
			t.Fatalf("adding an indicator decreased the score: %.2f -> %.2f", prev, score)
		}
		prev = score
	}
	if prev != 100 {
		t.Fatalf("expected saturation at 100, got %.1f", prev)
	}
}

func TestCompressionAboveKnee(t *testing.T) {
	s := newTestScorer()

	approx := func(got, want float64) bool {
		d := got - want
		return d < 1e-9 && d > -1e-9
	}

	// One indicator engineered to land the raw score below the knee:
	// conf 0.9 x domain weight 1.5 / 3.0 x 100 = 45 (unchanged).
	low := []threat.Indicator{threat.NewIndicator(threat.SourceHeuristic, threat.CategoryDomainPattern, 0.9, "d", "e")}
	if got := s.Score(low); !approx(got, 45) {
		t.Fatalf("expected uncompressed 45, got %.4f", got)
	}

	// Two of them: raw 90 -> 50 + 40*0.7 = 78.
	two := append(low, low[0])
	if got := s.Score(two); !approx(got, 78) {
		t.Fatalf("expected compressed 78, got %.4f", got)
	}
}

func TestDeterminism(t *testing.T) {
	s := newTestScorer()
	req := threat.EmailRequest{
		Subject: "URGENT wire transfer needed",
		Body:    "I need you to handle a confidential payment today. Keep this between us.",
		Sender:  "ceo@company-mail.top",
	}
	first := s.Score(s.AnalyzeEmail(req))
	for i := 0; i < 5; i++ {
		if got := s.Score(s.AnalyzeEmail(req)); got != first {
			t.Fatalf("non-deterministic score: %.4f vs %.4f", got, first)
		}
	}
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"paypal.com", "paypal.com", 0},
		{"paypa1.com", "paypal.com", 1},
		{"paypla.com", "paypal.com", 1}, // transposition
		{"gooogle.com", "google.com", 1},
		{"", "abc", 3},
		{"abc", "", 3},
	}
	for _, c := range cases {
		if got := editDistance(c.a, c.b); got != c.want {
			t.Fatalf("editDistance(%q,%q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  Verify\tYOUR\n\nAccount  "); got != "verify your account" {
		t.Fatalf("unexpected normalization: %q", got)
	}
	// Fullwidth compatibility forms fold to ASCII under NFKC.
	if got := Normalize("ＶＥＲＩＦＹ"); got != "verify" {
		t.Fatalf("NFKC folding failed: %q", got)
	}
}

func TestExtractLinks(t *testing.T) {
	body := "see https://bit.ly/x and http://example.com/page?q=1."
	links := ExtractLinks(body)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %v", links)
	}
}
