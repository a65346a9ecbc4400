package endpoints

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultProfile(t *testing.T) {
	p := Default()

	if len(p.Hosts) != 3 {
		t.Fatalf("Expected 3 default hosts, got %d", len(p.Hosts))
	}
	if p.Hosts[0] != "https://translate.google.co.jp/" {
		t.Errorf("Expected .co.jp host first, got %q", p.Hosts[0])
	}
	if p.ConsentSelector != `button[aria-label="Reject all"]` {
		t.Errorf("Unexpected consent selector %q", p.ConsentSelector)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Embedded profile should validate: %v", err)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"valid", Profile{Hosts: []string{"https://example.com/"}, Result: ResultSelectors{Translation: "span"}}, false},
		{"no hosts", Profile{Result: ResultSelectors{Translation: "span"}}, true},
		{"no translation selector", Profile{Hosts: []string{"https://example.com/"}}, true},
		{"bad scheme", Profile{Hosts: []string{"ftp://example.com/"}, Result: ResultSelectors{Translation: "span"}}, true},
		{"no hostname", Profile{Hosts: []string{"https:///path"}, Result: ResultSelectors{Translation: "span"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewManagerEmbeddedOnly(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if m.Get() != Default() {
		t.Error("Expected embedded profile when no external path is set")
	}
	if err := m.Reload(); err == nil {
		t.Error("Expected Reload to fail without an external path")
	}
}

func TestNewManagerMergesExternal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yaml")
	content := []byte("hosts:\n  - \"https://translate.example.test/\"\nresult:\n  translation: \"div.out\"\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write profile: %v", err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	p := m.Get()
	if len(p.Hosts) != 1 || p.Hosts[0] != "https://translate.example.test/" {
		t.Errorf("Expected external hosts, got %v", p.Hosts)
	}
	if p.Result.Translation != "div.out" {
		t.Errorf("Expected overridden translation selector, got %q", p.Result.Translation)
	}
	// Fields the file leaves out come from the embedded profile
	if p.ConsentSelector != Default().ConsentSelector {
		t.Errorf("Expected embedded consent selector, got %q", p.ConsentSelector)
	}
	if len(p.BlockedResourceTypes) != len(Default().BlockedResourceTypes) {
		t.Errorf("Expected embedded blocked types, got %v", p.BlockedResourceTypes)
	}

	stats := m.Stats()
	if stats.ReloadCount != 1 {
		t.Errorf("Expected reload count 1, got %d", stats.ReloadCount)
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yaml")
	if err := os.WriteFile(path, []byte("hosts:\n  - \"https://one.example.test/\"\n"), 0o600); err != nil {
		t.Fatalf("Failed to write profile: %v", err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("hosts:\n  - \"gopher://bad\"\n"), 0o600); err != nil {
		t.Fatalf("Failed to rewrite profile: %v", err)
	}
	if err := m.Reload(); err == nil {
		t.Fatal("Expected Reload to reject invalid host")
	}

	if got := m.Get().Hosts[0]; got != "https://one.example.test/" {
		t.Errorf("Expected previous profile to stay active, got %q", got)
	}
	if m.Stats().LastErrorStr == "" {
		t.Error("Expected last error to be recorded")
	}
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yaml")
	if err := os.WriteFile(path, []byte("hosts:\n  - \"https://one.example.test/\"\n"), 0o600); err != nil {
		t.Fatalf("Failed to write profile: %v", err)
	}

	m, err := NewManager(path, true)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("hosts:\n  - \"https://two.example.test/\"\n"), 0o600); err != nil {
		t.Fatalf("Failed to rewrite profile: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.Get().Hosts[0] == "https://two.example.test/" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("Expected hot-reload to pick up new host, still %v", m.Get().Hosts)
}

func TestCloseIdempotent(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("First Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}
