package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/skworld/advocate/internal/model"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func assessment(score float64) model.ThreatAssessment {
	return model.ThreatAssessment{MessageID: "m1", Score: score, Reasons: []string{"solicitation_pattern"}}
}

func TestScreeningClassification(t *testing.T) {
	e := testEngine(t) // flag 0.5, block 0.8

	tests := []struct {
		name  string
		score float64
		want  model.ScreenAction
	}{
		{"low score allows", 0.10, model.ScreenAllow},
		{"mid score flags", 0.65, model.ScreenFlag},
		{"high score blocks", 0.92, model.ScreenBlock},
		{"zero allows", 0, model.ScreenAllow},
		{"max blocks", 1.0, model.ScreenBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.EvaluateScreening(assessment(tt.score))
			if got.Action != tt.want {
				t.Errorf("score %v → %s, want %s", tt.score, got.Action, tt.want)
			}
			if tt.want != model.ScreenAllow && got.Reason == "" {
				t.Error("flag/block results must carry a reason")
			}
			if tt.want == model.ScreenAllow && got.Reason != "" {
				t.Errorf("allow result carried reason %q", got.Reason)
			}
		})
	}
}

// Threshold equality takes the lower-severity outcome: strict > semantics.
func TestScreeningThresholdBoundary(t *testing.T) {
	e := testEngine(t)

	if got := e.EvaluateScreening(assessment(0.5)); got.Action != model.ScreenAllow {
		t.Errorf("score == flag_threshold → %s, want allow", got.Action)
	}
	if got := e.EvaluateScreening(assessment(0.8)); got.Action != model.ScreenFlag {
		t.Errorf("score == block_threshold → %s, want flag", got.Action)
	}
}

func TestAccessAutoApprove(t *testing.T) {
	e := testEngine(t)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/shared/notes", Level: model.PermRead}, "need the notes", 0)

	got := e.EvaluateAccess(req)
	if got.Action != model.AccessAutoApprove {
		t.Fatalf("decision = %s, want auto_approve", got.Action)
	}
	if got.Scope != req.Scope {
		t.Errorf("approved scope %v, want exactly the requested %v", got.Scope, req.Scope)
	}
}

func TestAccessAutoDeny(t *testing.T) {
	e := testEngine(t)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/vault/credentials.db", Level: model.PermRead}, "debugging", 0)

	got := e.EvaluateAccess(req)
	if got.Action != model.AccessAutoDeny {
		t.Fatalf("decision = %s, want auto_deny", got.Action)
	}
	if got.Reason == "" {
		t.Error("deny must carry a reason")
	}
}

func TestAccessEscalatesWhenNoRuleMatches(t *testing.T) {
	e := testEngine(t)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "collaboration", 0)

	if got := e.EvaluateAccess(req); got.Action != model.AccessEscalate {
		t.Errorf("decision = %s, want escalate", got.Action)
	}
}

func TestAccessLevelAboveRuleEscalates(t *testing.T) {
	e := testEngine(t)
	// The /shared/* rule only covers read; a write request must not
	// auto-approve.
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/shared/notes", Level: model.PermWrite}, "edits", 0)

	if got := e.EvaluateAccess(req); got.Action != model.AccessEscalate {
		t.Errorf("decision = %s, want escalate for level above rule", got.Action)
	}
}

// When both categories match, deny wins.
func TestAccessDenyPrecedence(t *testing.T) {
	cfg := &Config{
		Thresholds: Thresholds{FlagThreshold: 0.5, BlockThreshold: 0.8},
		AccessRules: []AccessRule{
			{ResourcePattern: "/shared/*", MaxLevel: "admin", Decision: "auto_approve", Reason: "shared"},
			{ResourcePattern: "*credentials*", MaxLevel: "admin", Decision: "auto_deny", Reason: "never"},
		},
	}
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}

	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/shared/credentials", Level: model.PermRead}, "", 0)

	if got := e.EvaluateAccess(req); got.Action != model.AccessAutoDeny {
		t.Errorf("decision = %s, want auto_deny precedence", got.Action)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"flag equals block", func(c *Config) { c.Thresholds = Thresholds{0.8, 0.8} }, true},
		{"flag above block", func(c *Config) { c.Thresholds = Thresholds{0.9, 0.5} }, true},
		{"threshold above one", func(c *Config) { c.Thresholds.BlockThreshold = 1.5 }, true},
		{"negative threshold", func(c *Config) { c.Thresholds.FlagThreshold = -0.1 }, true},
		{"unknown decision", func(c *Config) {
			c.AccessRules = []AccessRule{{ResourcePattern: "*", MaxLevel: "read", Decision: "maybe"}}
		}, true},
		{"unknown level", func(c *Config) {
			c.AccessRules = []AccessRule{{ResourcePattern: "*", MaxLevel: "root", Decision: "auto_deny"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, model.ErrPolicyConfig) {
				t.Errorf("config errors must wrap ErrPolicyConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigOverlayAndHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "thresholds:\n  flag_threshold: 0.3\n  block_threshold: 0.6\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatalf("LoadConfigWithHash: %v", err)
	}
	if cfg.Thresholds.FlagThreshold != 0.3 || cfg.Thresholds.BlockThreshold != 0.6 {
		t.Errorf("thresholds not loaded: %+v", cfg.Thresholds)
	}
	if len(cfg.AccessRules) == 0 {
		t.Error("unspecified access rules lost their defaults")
	}
	if hash == "" || hash[:7] != "sha256:" {
		t.Errorf("malformed config hash %q", hash)
	}
}

func TestLoadConfigRejectsInvalidThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "thresholds:\n  flag_threshold: 0.9\n  block_threshold: 0.5\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if !errors.Is(err, model.ErrPolicyConfig) {
		t.Errorf("expected ErrPolicyConfig, got %v", err)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Thresholds != DefaultConfig().Thresholds {
		t.Error("missing file should yield default thresholds")
	}
}
