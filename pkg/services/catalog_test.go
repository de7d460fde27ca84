package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/morezero/app-gateway/pkg/semver"
)

const catalogTestPrefix = "services:catalog_test"

const sampleCatalog = `
services:
  - name: org.rdk.System
    versions: ["1.4.0", "2.0.1", "2.3.0", "3.0.0-rc.1"]
    defaultMajor: 2
    aliases: [System]
  - name: device
    versions: ["1.0.0"]
    subject: "legacy.device.v{major}"
`

func TestCatalog_Resolve(t *testing.T) {
	c := NewCatalog()
	if err := c.Load([]byte(sampleCatalog)); err != nil {
		t.Fatalf("%s - load: %v", catalogTestPrefix, err)
	}

	tests := []struct {
		alias       string
		wantVersion string
		wantSubject string
	}{
		{"org.rdk.System", "2.3.0", "svc.org_rdk_System.v2"},
		{"org.rdk.system@1", "1.4.0", "svc.org_rdk_System.v1"},
		{"System@^2.0.0", "2.3.0", "svc.org_rdk_System.v2"},
		{"org.rdk.System@~2.0.0", "2.0.1", "svc.org_rdk_System.v2"},
		{"org.rdk.System@3", "3.0.0-rc.1", "svc.org_rdk_System.v3"},
		{"device", "1.0.0", "legacy.device.v1"},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			got, err := c.Resolve(tt.alias)
			if err != nil {
				t.Fatalf("%s - Resolve(%q): %v", catalogTestPrefix, tt.alias, err)
			}
			if got.Version != tt.wantVersion || got.Subject != tt.wantSubject {
				t.Errorf("%s - Resolve(%q) = %+v, want version %s subject %s", catalogTestPrefix, tt.alias, got, tt.wantVersion, tt.wantSubject)
			}
		})
	}
}

func TestCatalog_ResolveErrors(t *testing.T) {
	c := NewCatalog()
	if err := c.Load([]byte(sampleCatalog)); err != nil {
		t.Fatalf("%s - load: %v", catalogTestPrefix, err)
	}

	if _, err := c.Resolve("unknown"); !errors.Is(err, ErrUnknownAlias) {
		t.Errorf("%s - expected ErrUnknownAlias, got %v", catalogTestPrefix, err)
	}
	if _, err := c.Resolve("org.rdk.System@^9"); !errors.Is(err, semver.ErrNoMatch) {
		t.Errorf("%s - expected ErrNoMatch, got %v", catalogTestPrefix, err)
	}
	if _, err := c.Resolve("@"); !errors.Is(err, semver.ErrInvalidRef) {
		t.Errorf("%s - expected ErrInvalidRef, got %v", catalogTestPrefix, err)
	}
}

func TestCatalog_LoadValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "services: [unclosed"},
		{"bad name", "services:\n  - name: \"9lives\"\n    versions: [\"1.0.0\"]\n"},
		{"no versions", "services:\n  - name: a\n"},
		{"bad version", "services:\n  - name: a\n    versions: [\"one\"]\n"},
		{"duplicate alias", "services:\n  - name: a\n    versions: [\"1.0.0\"]\n  - name: b\n    versions: [\"1.0.0\"]\n    aliases: [A]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCatalog()
			if err := c.Load([]byte(tt.doc)); !errors.Is(err, ErrInvalidCatalog) {
				t.Errorf("%s - expected ErrInvalidCatalog, got %v", catalogTestPrefix, err)
			}
		})
	}
}

func TestCatalog_FailedLoadKeepsContents(t *testing.T) {
	c := NewCatalog()
	if err := c.Load([]byte(sampleCatalog)); err != nil {
		t.Fatalf("%s - load: %v", catalogTestPrefix, err)
	}
	if err := c.Load([]byte("services:\n  - name: a\n")); err == nil {
		t.Fatalf("%s - expected invalid catalog", catalogTestPrefix)
	}
	if got := c.Names(); len(got) != 2 || got[0] != "device" || got[1] != "org.rdk.System" {
		t.Errorf("%s - names = %v", catalogTestPrefix, got)
	}
}

func TestLoadCatalog_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatalf("%s - write: %v", catalogTestPrefix, err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("%s - LoadCatalog: %v", catalogTestPrefix, err)
	}
	if len(c.Names()) != 2 {
		t.Errorf("%s - expected 2 services, got %v", catalogTestPrefix, c.Names())
	}
	if _, err := LoadCatalog(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("%s - expected error for missing file", catalogTestPrefix)
	}
}
