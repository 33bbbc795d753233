package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Pipeline.Validate(); err != nil {
		t.Fatalf("default pipeline config should validate, got %v", err)
	}
}

func TestPipelineConfigValidateRejectsNonPositiveHop(t *testing.T) {
	cfg := defaultConfig().Pipeline
	cfg.HopMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero hopMs")
	}
}

func TestPipelineConfigValidateRejectsNonPositiveWindow(t *testing.T) {
	cfg := defaultConfig().Pipeline
	cfg.WindowMs = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative windowMs")
	}
}

func TestMergeAppliesOnlyProvidedFields(t *testing.T) {
	cfg := defaultConfig().Pipeline
	newHop := int64(2000)

	merged, err := cfg.Merge(PartialConfig{HopMs: &newHop})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.HopMs != 2000 {
		t.Fatalf("expected hopMs 2000, got %d", merged.HopMs)
	}
	if merged.WindowMs != cfg.WindowMs {
		t.Fatalf("expected windowMs unchanged, got %d", merged.WindowMs)
	}
}

func TestMergeRejectsInvalidResultAndLeavesOriginalUnchanged(t *testing.T) {
	cfg := defaultConfig().Pipeline
	badHop := int64(0)

	merged, err := cfg.Merge(PartialConfig{HopMs: &badHop})
	if err == nil {
		t.Fatalf("expected error for zero hopMs update")
	}
	if merged.HopMs != cfg.HopMs {
		t.Fatalf("expected config to be left unchanged on rejected merge")
	}
}

func TestApplyEnvOverridesWindowAndHop(t *testing.T) {
	t.Setenv("ALERTCORR_WINDOW_MS", "60000")
	t.Setenv("ALERTCORR_HOP_MS", "5000")

	cfg := defaultConfig()
	applyEnvOverrides(&cfg)

	if cfg.Pipeline.WindowMs != 60000 {
		t.Fatalf("expected windowMs overridden to 60000, got %d", cfg.Pipeline.WindowMs)
	}
	if cfg.Pipeline.HopMs != 5000 {
		t.Fatalf("expected hopMs overridden to 5000, got %d", cfg.Pipeline.HopMs)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/path/does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
