package config

import (
	"os"
	"testing"
)

func clearBridgeEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BRIDGE_MODE", "HTTP_PORT", "MAX_WAIT_SEC", "JOB_TIMEOUT_MS",
		"MAX_QUEUE_SIZE", "STABLE_CHECKS", "SESSION_BINDING_MODE",
		"FILE_CONTEXT_ALLOWED_ROOTS", "UI_ERROR_PATTERNS_JSON",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearBridgeEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != TransportHTTP {
		t.Fatalf("default Mode = %q, want %q", cfg.Mode, TransportHTTP)
	}
	if cfg.Poll.MaxWaitSec != 120 {
		t.Fatalf("default MaxWaitSec = %d, want 120", cfg.Poll.MaxWaitSec)
	}
}

func TestLoadClampsJobTimeout(t *testing.T) {
	clearBridgeEnv(t)
	os.Setenv("MAX_WAIT_SEC", "200")
	os.Setenv("JOB_TIMEOUT_MS", "1000")
	defer os.Unsetenv("MAX_WAIT_SEC")
	defer os.Unsetenv("JOB_TIMEOUT_MS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := (200 + 15) * 1000
	if cfg.JobTimeoutMS != want {
		t.Fatalf("JobTimeoutMS = %d, want clamped to %d", cfg.JobTimeoutMS, want)
	}
}

func TestValidateRejectsBadBindingMode(t *testing.T) {
	cfg := &Config{
		Mode: TransportHTTP, HTTPPort: "8787", MaxQueueSize: 1,
		Poll:   PollConfig{MaxWaitSec: 120, StableChecks: 1},
		Prompt: PromptConfig{MaxPromptChars: 1, MaxMessageChars: 1},
		JobTimeoutMS: (120 + 15) * 1000,
		Session: SessionConfig{BindingMode: "nonsense"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject an unrecognized SESSION_BINDING_MODE")
	}
}

func TestValidateRejectsLowJobTimeout(t *testing.T) {
	cfg := &Config{
		Mode: TransportHTTP, HTTPPort: "8787", MaxQueueSize: 1,
		Poll:   PollConfig{MaxWaitSec: 120, StableChecks: 1},
		Prompt: PromptConfig{MaxPromptChars: 1, MaxMessageChars: 1},
		JobTimeoutMS: 1000,
		Session: SessionConfig{BindingMode: "off"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate should reject JOB_TIMEOUT_MS below MAX_WAIT_SEC+15s")
	}
}

func TestMarkerSecretEffective(t *testing.T) {
	cfg := &Config{MarkerSecret: "configured"}
	secret, ephemeral := cfg.MarkerSecretEffective(func() string { return "random" })
	if secret != "configured" || ephemeral {
		t.Fatalf("a configured secret should be used as-is, got secret=%q ephemeral=%v", secret, ephemeral)
	}

	cfg2 := &Config{}
	secret2, ephemeral2 := cfg2.MarkerSecretEffective(func() string { return "random" })
	if secret2 != "random" || !ephemeral2 {
		t.Fatalf("an empty secret should fall back to the random generator, got secret=%q ephemeral=%v", secret2, ephemeral2)
	}
}

func TestParseUIErrorPatterns(t *testing.T) {
	cfg := &Config{UILabels: UILabelsConfig{ErrorPatternsJSON: `[{"code":"captcha","includes":["verify you are human"]}]`}}
	patterns, err := cfg.ParseUIErrorPatterns()
	if err != nil {
		t.Fatalf("ParseUIErrorPatterns: %v", err)
	}
	if len(patterns) != 1 || patterns[0]["code"] != "captcha" {
		t.Fatalf("unexpected patterns: %+v", patterns)
	}
}

func TestParseUIErrorPatternsEmpty(t *testing.T) {
	cfg := &Config{}
	patterns, err := cfg.ParseUIErrorPatterns()
	if err != nil || patterns != nil {
		t.Fatalf("empty UI_ERROR_PATTERNS_JSON should yield (nil, nil), got (%v, %v)", patterns, err)
	}
}

func TestGetEnvListSplitsOnPathListSeparator(t *testing.T) {
	key := "FILE_CONTEXT_ALLOWED_ROOTS"
	os.Setenv(key, "/tmp/a"+string(os.PathListSeparator)+"/tmp/b")
	defer os.Unsetenv(key)

	got := getEnvList(key, nil)
	if len(got) != 2 || got[0] != "/tmp/a" || got[1] != "/tmp/b" {
		t.Fatalf("getEnvList = %v, want [/tmp/a /tmp/b]", got)
	}
}
