package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.AIProvider = ProviderNone // no API keys in the test environment
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.SuspiciousThreshold != 30 || cfg.MaliciousThreshold != 70 {
		t.Fatalf("unexpected default thresholds: %f/%f",
			cfg.SuspiciousThreshold, cfg.MaliciousThreshold)
	}
	if cfg.CacheTTL != 24*time.Hour || cfg.CacheCapacity != 10000 {
		t.Fatalf("unexpected cache defaults: %s/%d", cfg.CacheTTL, cfg.CacheCapacity)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.AIProvider = ProviderNone

	cfg.SuspiciousThreshold = 80
	cfg.MaliciousThreshold = 70
	if err := cfg.Validate(); err == nil {
		t.Fatal("suspicious >= malicious should be rejected")
	}

	cfg.SuspiciousThreshold = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative threshold should be rejected")
	}
}

func TestValidateRequiresKeyForCloudProviders(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.AIProvider = ProviderGroq
	cfg.AIAPIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("cloud provider without API key should be rejected")
	}

	cfg.AIProvider = ProviderOllama
	if err := cfg.Validate(); err != nil {
		t.Fatalf("ollama needs no API key: %v", err)
	}
}

func TestLocalConfig(t *testing.T) {
	cfg := NewLocalConfig()
	if cfg.AIProvider != ProviderOllama || cfg.AIBaseURL == "" {
		t.Fatalf("local config should target ollama: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("local config should validate: %v", err)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("MOAT_TEST_STR", "value")
	t.Setenv("MOAT_TEST_INT", "42")
	t.Setenv("MOAT_TEST_FLOAT", "2.5")
	t.Setenv("MOAT_TEST_BOOL", "true")
	t.Setenv("MOAT_TEST_DUR", "90s")
	t.Setenv("MOAT_TEST_SLICE", "a, b ,c")

	if got := GetEnv("MOAT_TEST_STR", "x"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("MOAT_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetEnv fallback = %q", got)
	}
	if got := GetEnvInt("MOAT_TEST_INT", 0); got != 42 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvFloat("MOAT_TEST_FLOAT", 0); got != 2.5 {
		t.Errorf("GetEnvFloat = %f", got)
	}
	if !GetEnvBool("MOAT_TEST_BOOL", false) {
		t.Error("GetEnvBool should parse true")
	}
	if got := GetEnvDuration("MOAT_TEST_DUR", 0); got != 90*time.Second {
		t.Errorf("GetEnvDuration = %s", got)
	}
	got := GetEnvSlice("MOAT_TEST_SLICE", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("GetEnvSlice = %v", got)
	}
}
