package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"herbtrace/internal/core", true},
		{"example.com/mod/internal/x", true},
		{"herbtrace/pkg/domain", false},
		{"go.uber.org/zap", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestOnlyModuleImportsPredicate(t *testing.T) {
	forbidden := OnlyModuleImports("herbtrace/pkg/domain")
	cases := []struct {
		in   string
		want bool
	}{
		{"herbtrace/pkg/domain", false},
		{"herbtrace/internal/core", true},
		{"herbtrace", true},
		{"herbtracex/other", false},
		{"crypto/sha256", false},
		{"github.com/google/uuid", false},
	}
	for _, c := range cases {
		if got := forbidden(c.in); got != c.want {
			t.Fatalf("OnlyModuleImports(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func writeGoFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "a.go", "package x\n\nimport (\n\t\"fmt\"\n\t\"herbtrace/internal/core\"\n)\n\nvar _ = fmt.Sprint\nvar _ = core.SystemOperator\n")
	writeGoFile(t, dir, "a_test.go", "package x\n\nimport \"herbtrace/internal/infra/persistence/memory\"\n\nvar _ memory.Store\n")
	writeGoFile(t, dir, "notes.txt", "import \"herbtrace/internal/core\"")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "herbtrace/internal/core (in a.go)") {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeGoFile(t, dir, "broken.go", "package x\nimport (\n")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = format }

func TestFailIfDirectViolations(t *testing.T) {
	var r recordingFatal
	failIfDirectViolations(&r, "reason", nil)
	if r.msg != "" {
		t.Fatalf("expected no failure without violations")
	}
	failIfDirectViolations(&r, "reason", []string{"x"})
	if r.msg == "" {
		t.Fatalf("expected failure with violations")
	}
}
