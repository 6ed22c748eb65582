package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	valid bool
}

func (s *sample) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	s.valid = true
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeFile(t, "name: guild\n")
	s := sample{Port: 8080}
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "guild" || s.Port != 8080 || !s.valid {
		t.Errorf("got %+v", s)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "name: guild\nprot: 1\n")
	var s sample
	if err := Load(path, &s); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadRunsValidator(t *testing.T) {
	path := writeFile(t, "port: 1\n")
	var s sample
	err := Load(path, &s)
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "")
	s := sample{Name: "preset"}
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	s := sample{Name: "preset"}
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if !s.valid {
		t.Error("validator not called")
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("GS_SET", "value")
	t.Setenv("GS_EMPTY", "")
	tests := []struct{ in, want string }{
		{"${GS_SET}", "value"},
		{"${GS_SET:-fallback}", "value"},
		{"${GS_EMPTY:-fb}", "fb"},
		{"${GS_UNSET_XYZ:-fb}", "fb"},
		{"${GS_UNSET_XYZ}", ""},
		{"port: $GS_SET", "port: value"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
