package patterns

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// overrideFile is the YAML schema for corpus extensions. Entries are merged
// on top of the embedded defaults; there is no way to remove a default entry
// at runtime, only to add (removals are a code change and a review).
type overrideFile struct {
	Keywords map[string][]struct {
		Text       string  `yaml:"text"`
		Confidence float64 `yaml:"confidence"`
	} `yaml:"keywords"`
	PhishingPhrases []phraseOverride `yaml:"phishing_phrases"`
	BECPhrases      []phraseOverride `yaml:"bec_phrases"`
	MaliciousDomains []string        `yaml:"malicious_domains"`
	SuspiciousTLDs   []string        `yaml:"suspicious_tlds"`
	LegitimateDomains []string       `yaml:"legitimate_domains"`
	ShortenerHosts   []string        `yaml:"shortener_hosts"`
}

type phraseOverride struct {
	Name        string  `yaml:"name"`
	Pattern     string  `yaml:"pattern"`
	Confidence  float64 `yaml:"confidence"`
	Description string  `yaml:"description"`
}

// Load builds the default library and merges overrides from a YAML file.
// An empty path returns the defaults unchanged.
func Load(path string) (*Library, error) {
	lib := Default()
	if path == "" {
		return lib, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}

	var ov overrideFile
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return nil, fmt.Errorf("parse patterns file: %w", err)
	}

	for cat, entries := range ov.Keywords {
		for _, e := range entries {
			if e.Text == "" || e.Confidence <= 0 || e.Confidence > 1 {
				return nil, fmt.Errorf("invalid keyword override %q in category %q", e.Text, cat)
			}
			lib.addKeyword(KeywordCategory(cat), e.Text, e.Confidence)
		}
	}

	for _, p := range ov.PhishingPhrases {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid phishing phrase %q: %w", p.Name, err)
		}
		lib.phishingPhrases = append(lib.phishingPhrases, Phrase{
			Name: p.Name, Regex: re, Confidence: p.Confidence, Description: p.Description,
		})
	}
	for _, p := range ov.BECPhrases {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid bec phrase %q: %w", p.Name, err)
		}
		lib.becPhrases = append(lib.becPhrases, Phrase{
			Name: p.Name, Regex: re, Confidence: p.Confidence, Description: p.Description,
		})
	}

	for _, d := range ov.MaliciousDomains {
		lib.maliciousDomains[d] = struct{}{}
	}
	for _, t := range ov.SuspiciousTLDs {
		lib.suspiciousTLDs[t] = struct{}{}
	}
	lib.legitimateAllow = append(lib.legitimateAllow, ov.LegitimateDomains...)
	for _, h := range ov.ShortenerHosts {
		lib.shortenerHosts[h] = struct{}{}
	}

	return lib, nil
}
