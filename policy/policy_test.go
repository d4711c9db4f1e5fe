package policy

import (
	"testing"

	"github.com/sandkit/vfs/data"
)

func TestResolveContainment(t *testing.T) {
	p := &Policy{}

	cases := []struct {
		base     string
		path     string
		expected string
		wantKind ViolationKind
		wantErr  bool
	}{
		{"/", "/a/b", "/a/b", 0, false},
		{"/cwd", "file.txt", "/cwd/file.txt", 0, false},
		{"/cwd", "../other", "/other", 0, false},
		{"/", "/../etc/passwd", "", ViolationTraversal, true},
		{"/", "../../..", "", ViolationTraversal, true},
		{"/a", "../../etc", "", ViolationTraversal, true},
	}

	for _, c := range cases {
		got, err := p.Resolve(c.base, c.path)
		if c.wantErr {
			if !IsViolation(err, c.wantKind) {
				t.Errorf("Resolve(%q, %q): expected %v violation, got %v", c.base, c.path, c.wantKind, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q, %q) failed: %v", c.base, c.path, err)
			continue
		}
		if got != c.expected {
			t.Errorf("Resolve(%q, %q) = %q, expected %q", c.base, c.path, got, c.expected)
		}
	}
}

func TestResolveScopedRoot(t *testing.T) {
	p := &Policy{Root: "/jail"}

	if _, err := p.Resolve("/jail", "inner.txt"); err != nil {
		t.Errorf("Resolve inside root failed: %v", err)
	}
	if _, err := p.Resolve("/jail", "../outside"); !IsViolation(err, ViolationTraversal) {
		t.Errorf("Expected traversal violation leaving root, got %v", err)
	}
	if _, err := p.Resolve("/", "/other"); !IsViolation(err, ViolationTraversal) {
		t.Errorf("Expected traversal violation for path outside root, got %v", err)
	}
}

func TestValidateDepthAndPrefixes(t *testing.T) {
	p := &Policy{
		MaxPathDepth: 3,
		DeniedPaths:  []string{"/etc"},
	}

	if err := p.Validate("stat", "/a/b/c"); err != nil {
		t.Errorf("Depth at limit failed: %v", err)
	}
	if err := p.Validate("stat", "/a/b/c/d"); !IsViolation(err, ViolationDepth) {
		t.Errorf("Expected depth violation, got %v", err)
	}
	if err := p.Validate("stat", "/etc/passwd"); !IsViolation(err, ViolationDeniedPath) {
		t.Errorf("Expected denied-path violation, got %v", err)
	}
}

func TestValidateExtensions(t *testing.T) {
	p := &Policy{
		AllowedExtensions: []string{".txt", ".md"},
		DeniedExtensions:  []string{".exe"},
	}

	if err := p.ValidateExtension("write", "/notes.txt"); err != nil {
		t.Errorf("Allowed extension failed: %v", err)
	}
	if err := p.ValidateExtension("write", "/NOTES.TXT"); err != nil {
		t.Errorf("Extension match should be case-insensitive: %v", err)
	}
	if err := p.ValidateExtension("write", "/tool.exe"); !IsViolation(err, ViolationExtension) {
		t.Errorf("Expected extension violation, got %v", err)
	}
	if err := p.ValidateExtension("write", "/image.png"); !IsViolation(err, ViolationExtension) {
		t.Errorf("Expected whitelist violation, got %v", err)
	}
	if err := p.ValidateExtension("write", "/archive"); err != nil {
		t.Errorf("Extensionless name failed: %v", err)
	}
	// Validate no longer looks at extensions; dotted directory names pass.
	if err := p.Validate("mkdir", "/v1.2"); err != nil {
		t.Errorf("Dotted directory name failed: %v", err)
	}
}

func TestValidateWriteReadOnly(t *testing.T) {
	p := &Policy{ReadOnly: true}

	if err := p.ValidateWrite("write", "/a.txt", 1); !IsViolation(err, ViolationReadOnly) {
		t.Errorf("Expected read-only violation, got %v", err)
	}
	// Reads remain unaffected.
	if err := p.Validate("read", "/a.txt"); err != nil {
		t.Errorf("Read on read-only policy failed: %v", err)
	}
}

func TestValidateQuota(t *testing.T) {
	p := &Policy{MaxTotalSize: 100, MaxFiles: 2}

	if !p.NeedsUsage() {
		t.Fatal("Expected NeedsUsage with aggregate quotas set")
	}

	stats := &data.StorageStats{TotalFiles: 1, TotalBytes: 90}
	if err := p.ValidateQuota("write", "/a", 10, true, stats); err != nil {
		t.Errorf("Quota at limit failed: %v", err)
	}
	if err := p.ValidateQuota("write", "/a", 11, true, stats); !IsViolation(err, ViolationQuota) {
		t.Errorf("Expected size quota violation, got %v", err)
	}

	stats.TotalFiles = 2
	if err := p.ValidateQuota("write", "/a", 0, true, stats); !IsViolation(err, ViolationQuota) {
		t.Errorf("Expected file count violation, got %v", err)
	}
	// Overwrites are not new files and pass the count check.
	if err := p.ValidateQuota("write", "/a", 0, false, stats); err != nil {
		t.Errorf("Overwrite tripped file count quota: %v", err)
	}
}

func TestViolationLog(t *testing.T) {
	p := &Policy{DeniedPaths: []string{"/etc"}}

	for i := 0; i < 3; i++ {
		p.Validate("stat", "/etc/passwd")
	}

	violations := p.Violations()
	if len(violations) != 3 {
		t.Fatalf("Expected 3 recorded violations, got %d", len(violations))
	}
	for _, v := range violations {
		if v.Kind != ViolationDeniedPath {
			t.Errorf("Expected denied-path kind, got %v", v.Kind)
		}
		if v.At.IsZero() {
			t.Error("Violation missing timestamp")
		}
	}
}

func TestProfiles(t *testing.T) {
	for _, name := range Profiles() {
		if _, err := Profile(name); err != nil {
			t.Errorf("Profile(%q) failed: %v", name, err)
		}
	}
	if _, err := Profile("bogus"); err == nil {
		t.Error("Expected error for unknown profile")
	}

	ro, _ := Profile("readonly")
	if !ro.ReadOnly {
		t.Error("readonly profile is not read-only")
	}
}
