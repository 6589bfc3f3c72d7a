package patterns

// =============================================================================
// CORPORA DEFINITIONS BY CATEGORY
// All keywords, phrases and domain lists are registered here.
// This provides a single source of truth for the heuristic scorer and the
// curated reputation provider.
// =============================================================================

// --- WEIGHTED KEYWORD SETS ---
func (l *Library) registerKeywords() {
	// Urgency pressure
	l.addKeyword(CategoryUrgency, "urgent", 0.55)
	l.addKeyword(CategoryUrgency, "immediately", 0.50)
	l.addKeyword(CategoryUrgency, "act now", 0.65)
	l.addKeyword(CategoryUrgency, "expires today", 0.65)
	l.addKeyword(CategoryUrgency, "within 24 hours", 0.60)
	l.addKeyword(CategoryUrgency, "final notice", 0.65)
	l.addKeyword(CategoryUrgency, "last chance", 0.55)
	l.addKeyword(CategoryUrgency, "time sensitive", 0.50)
	l.addKeyword(CategoryUrgency, "asap", 0.40)
	l.addKeyword(CategoryUrgency, "don't delay", 0.50)

	// Credential requests
	l.addKeyword(CategoryCredentialRequest, "verify your account", 0.75)
	l.addKeyword(CategoryCredentialRequest, "confirm your identity", 0.70)
	l.addKeyword(CategoryCredentialRequest, "update your password", 0.70)
	l.addKeyword(CategoryCredentialRequest, "reset your password", 0.55)
	l.addKeyword(CategoryCredentialRequest, "login to your account", 0.55)
	l.addKeyword(CategoryCredentialRequest, "click here to verify", 0.80)
	l.addKeyword(CategoryCredentialRequest, "validate your credentials", 0.80)
	l.addKeyword(CategoryCredentialRequest, "account suspended", 0.70)
	l.addKeyword(CategoryCredentialRequest, "account has been locked", 0.70)
	l.addKeyword(CategoryCredentialRequest, "unusual sign-in activity", 0.60)
	l.addKeyword(CategoryCredentialRequest, "security alert", 0.50)
	l.addKeyword(CategoryCredentialRequest, "ssn", 0.65)
	l.addKeyword(CategoryCredentialRequest, "social security number", 0.75)

	// Financial lures
	l.addKeyword(CategoryFinancial, "wire transfer", 0.65)
	l.addKeyword(CategoryFinancial, "bank account", 0.45)
	l.addKeyword(CategoryFinancial, "payment declined", 0.60)
	l.addKeyword(CategoryFinancial, "invoice attached", 0.55)
	l.addKeyword(CategoryFinancial, "outstanding payment", 0.55)
	l.addKeyword(CategoryFinancial, "refund pending", 0.60)
	l.addKeyword(CategoryFinancial, "billing problem", 0.55)
	l.addKeyword(CategoryFinancial, "unclaimed funds", 0.70)
	l.addKeyword(CategoryFinancial, "lottery", 0.65)
	l.addKeyword(CategoryFinancial, "inheritance", 0.60)
	l.addKeyword(CategoryFinancial, "gift card", 0.60)
	l.addKeyword(CategoryFinancial, "bitcoin", 0.45)
	l.addKeyword(CategoryFinancial, "cryptocurrency", 0.40)

	// Social engineering
	l.addKeyword(CategorySocialEngineering, "dear customer", 0.45)
	l.addKeyword(CategorySocialEngineering, "dear user", 0.45)
	l.addKeyword(CategorySocialEngineering, "valued member", 0.40)
	l.addKeyword(CategorySocialEngineering, "do not share this", 0.55)
	l.addKeyword(CategorySocialEngineering, "keep this confidential", 0.60)
	l.addKeyword(CategorySocialEngineering, "this is not a scam", 0.75)
	l.addKeyword(CategorySocialEngineering, "100% guaranteed", 0.55)
	l.addKeyword(CategorySocialEngineering, "you have been selected", 0.65)
	l.addKeyword(CategorySocialEngineering, "congratulations", 0.35)
	l.addKeyword(CategorySocialEngineering, "are you available", 0.35)

	// Threat language
	l.addKeyword(CategoryThreatLanguage, "legal action", 0.60)
	l.addKeyword(CategoryThreatLanguage, "account will be closed", 0.65)
	l.addKeyword(CategoryThreatLanguage, "account will be terminated", 0.65)
	l.addKeyword(CategoryThreatLanguage, "permanently deleted", 0.55)
	l.addKeyword(CategoryThreatLanguage, "avoid suspension", 0.65)
	l.addKeyword(CategoryThreatLanguage, "failure to comply", 0.65)
	l.addKeyword(CategoryThreatLanguage, "warrant", 0.50)
	l.addKeyword(CategoryThreatLanguage, "arrest", 0.55)
	l.addKeyword(CategoryThreatLanguage, "compromising video", 0.75)
	l.addKeyword(CategoryThreatLanguage, "we have recorded you", 0.80)
}

// --- COMPILED PHRASE PATTERNS ---
func (l *Library) registerPhrases() {
	// Phishing phrasing: credential bait with a call to action
	l.addPhishingPhrase("verify_link", `(?i)click\s+(here|the\s+link|below)\s+to\s+(verify|confirm|validate|restore|unlock)`, 0.85, "Credential verification lure")
	l.addPhishingPhrase("suspended_restore", `(?i)(account|access)\s+(has\s+been\s+)?(suspended|limited|locked).{0,60}(verify|confirm|restore|reactivate)`, 0.85, "Suspension-restore lure")
	l.addPhishingPhrase("confirm_details", `(?i)(confirm|update|verify)\s+your\s+(personal|billing|payment|account)\s+(details|information)`, 0.80, "Detail confirmation lure")
	l.addPhishingPhrase("sign_in_security", `(?i)(unusual|suspicious)\s+(sign[\s-]?in|login|activity).{0,60}(secure|verify|review)`, 0.75, "Fake security review")
	l.addPhishingPhrase("password_expire", `(?i)password\s+(will\s+)?expire.{0,40}(today|hours|immediately)`, 0.75, "Password expiry pressure")
	l.addPhishingPhrase("attachment_open", `(?i)(open|review|see)\s+the\s+attached\s+(invoice|document|statement).{0,40}(immediately|urgent|today)`, 0.70, "Urgent attachment lure")
	l.addPhishingPhrase("prize_claim", `(?i)(claim|collect)\s+your\s+(prize|reward|refund|winnings)`, 0.80, "Prize claim lure")

	// Business email compromise phrasing: authority plus quiet money movement
	l.addBECPhrase("ceo_urgent_task", `(?i)(i\s+need\s+you\s+to|can\s+you)\s+(handle|process|complete)\s+(a|an|this)\s+(urgent|quick|confidential)`, 0.80, "Executive urgent-task pretext")
	l.addBECPhrase("wire_instruction", `(?i)(wire|transfer)\s+(the\s+)?(funds|payment|money).{0,60}(today|immediately|before)`, 0.85, "Wire transfer instruction")
	l.addBECPhrase("change_bank", `(?i)(update|change)d?\s+(our|the|my)\s+(bank|account|payment)\s+(details|information|instructions)`, 0.85, "Banking detail change")
	l.addBECPhrase("keep_between_us", `(?i)(keep\s+this|this\s+stays)\s+between\s+us`, 0.80, "Secrecy pressure")
	l.addBECPhrase("unavailable_exec", `(?i)(i'?m|i\s+am)\s+(in|about\s+to\s+enter)\s+a\s+meeting.{0,60}(text|reply|email)\s+(me|back)`, 0.70, "Unreachable-executive pretext")
	l.addBECPhrase("gift_card_run", `(?i)(buy|purchase|get)\s+(some\s+)?gift\s*cards?.{0,60}(codes?|numbers?|photo)`, 0.90, "Gift card code request")
	l.addBECPhrase("payroll_redirect", `(?i)(update|change)\s+my\s+(direct\s+deposit|payroll)\s+(account|details|information)`, 0.85, "Payroll redirect request")
}

// --- DOMAIN CORPORA ---
func (l *Library) registerDomains() {
	// Curated known-bad domains. In production this list is fed by the
	// threat intel pipeline; these seeds cover common test fixtures.
	for _, d := range []string{
		"secure-bank-update.com",
		"account-verify-center.com",
		"login-appleid-support.com",
		"paypal-resolution-center.net",
		"microsoft-security-alerts.com",
		"netflix-billing-update.com",
		"amazon-account-services.net",
		"docusign-secure-view.com",
		"irs-tax-refunds.org",
		"dhl-parcel-tracking.net",
	} {
		l.maliciousDomains[d] = struct{}{}
	}

	// TLDs with disproportionate abuse rates in phishing feeds.
	for _, tld := range []string{
		"tk", "ml", "ga", "cf", "gq", "top", "xyz", "click", "link",
		"work", "rest", "zip", "mov", "country", "support",
	} {
		l.suspiciousTLDs[tld] = struct{}{}
	}

	// Spoof targets: legitimate domains attackers typo-squat against.
	l.legitimateAllow = []string{
		"paypal.com", "apple.com", "google.com", "microsoft.com",
		"amazon.com", "netflix.com", "facebook.com", "instagram.com",
		"chase.com", "wellsfargo.com", "bankofamerica.com", "citibank.com",
		"dropbox.com", "docusign.com", "linkedin.com", "outlook.com",
		"office365.com", "icloud.com", "github.com", "ups.com", "fedex.com",
		"dhl.com", "irs.gov", "usps.com",
	}

	// URL shorteners: destination cloaking, scored per link.
	for _, h := range []string{
		"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "is.gd",
		"buff.ly", "rebrand.ly", "cutt.ly", "shorturl.at", "rb.gy",
		"tiny.cc", "lnkd.in", "s.id", "v.gd",
	} {
		l.shortenerHosts[h] = struct{}{}
	}
}
