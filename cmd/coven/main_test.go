package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/coven/journal"
	"github.com/chazu/coven/parser"
	"github.com/chazu/coven/vm"
)

// project writes a coven.toml plus the given files into a temp dir and
// returns the manifest path.
func project(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, "coven.toml")
	if err := os.WriteFile(path, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"coven"}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		code   int
		stdout string
		stderr string
	}{
		{"value", "ritual fib(n) { if n < 2 { return n } return fib(n - 1) + fib(n - 2) }\nfib(10)", exitOK, "55\n", ""},
		{"parse", `say "hello"; say 2 ** 3`, exitParse, "", "parse error"},
		{"say then nil", `say "hello"; nil`, exitOK, "hello\n", ""},
		{"runtime", "let x = 1\nx / 0", exitRuntime, "", "ArithmeticError: division by zero (at 2:3)"},
		{"unbound", "nope", exitRuntime, "", `"nope" is not bound`},
		{"fatal", "await self", exitInternal, "", "InternalSchedulerError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := project(t, "", map[string]string{"main.rite": tt.src})
			code, stdout, stderr := runCLI(t, "", "--config", cfg, "--seed", "7", "run", filepath.Join(filepath.Dir(cfg), "main.rite"))
			if code != tt.code {
				t.Errorf("exit code = %d, want %d (stderr %q)", code, tt.code, stderr)
			}
			if stdout != tt.stdout {
				t.Errorf("stdout = %q, want %q", stdout, tt.stdout)
			}
			if !strings.Contains(stderr, tt.stderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.stderr)
			}
		})
	}
}

func TestRunStdin(t *testing.T) {
	cfg := project(t, "", nil)
	code, stdout, _ := runCLI(t, "let a = summon text(41 + 1)\nawait a", "--config", cfg, "run", "-")
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}
	if stdout != "42\n" {
		t.Errorf("stdout = %q, want %q", stdout, "42\n")
	}
}

func TestRunQuiet(t *testing.T) {
	cfg := project(t, "", nil)
	code, stdout, _ := runCLI(t, "1 + 1", "--config", cfg, "run", "-q", "-")
	if code != exitOK || stdout != "" {
		t.Errorf("run -q = %d, %q; want %d, empty output", code, stdout, exitOK)
	}
}

func TestRunManifestEntryWithJournal(t *testing.T) {
	cfg := project(t, `
[project]
entry = "rites/start.rite"

[runtime]
workers = 2
seed = 99

[journal]
sqlite = "journal.db"
`, nil)
	dir := filepath.Dir(cfg)
	if err := os.MkdirAll(filepath.Join(dir, "rites"), 0755); err != nil {
		t.Fatal(err)
	}
	src := "ritual r() { 7 }\nawait summon r()"
	if err := os.WriteFile(filepath.Join(dir, "rites", "start.rite"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "", "--config", cfg, "run")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	if stdout != "7\n" {
		t.Errorf("stdout = %q, want %q", stdout, "7\n")
	}

	db, err := journal.OpenSQLite(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	records, err := db.Records("")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 6 {
		t.Errorf("journal has %d records, want 6: %v", len(records), records)
	}
}

func TestRunJournalFlagOverridesManifest(t *testing.T) {
	cfg := project(t, "[journal]\nsqlite = \"ignored.db\"\n", nil)
	out := filepath.Join(t.TempDir(), "events.cbor")
	code, _, stderr := runCLI(t, "summon text(1); 2", "--config", cfg, "--journal-cbor", out, "--journal-sqlite", "", "run", "-")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr %q", code, stderr)
	}
	records, err := journal.ReadCBORFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 6 {
		t.Errorf("cbor journal has %d records, want 6", len(records))
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(cfg), "ignored.db")); !os.IsNotExist(err) {
		t.Errorf("manifest journal was opened despite the flag override (stat err %v)", err)
	}
}

func TestCheck(t *testing.T) {
	cfg := project(t, "", nil)
	if code, _, stderr := runCLI(t, "ritual f(a) { a }", "--config", cfg, "check", "-"); code != exitOK {
		t.Errorf("check valid = %d, stderr %q", code, stderr)
	}
	code, _, stderr := runCLI(t, "ritual f(a, a) { a }", "--config", cfg, "check", "-")
	if code != exitParse {
		t.Errorf("check invalid = %d, want %d", code, exitParse)
	}
	if !strings.Contains(stderr, "<stdin>: parse error at 1:") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunRejectsExtraFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.toml")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := runCLI(t, "", "--config", path, "run", "a.rite", "b.rite")
	if code != exitRuntime || !strings.Contains(stderr, "expected one ritual file") {
		t.Errorf("run with two files = %d, %q", code, stderr)
	}
}

func TestBadManifest(t *testing.T) {
	cfg := project(t, "[runtime]\norphans = \"sometimes\"\n", nil)
	code, _, stderr := runCLI(t, "1", "--config", cfg, "run", "-")
	if code != exitRuntime || !strings.Contains(stderr, "runtime.orphans") {
		t.Errorf("bad manifest = %d, %q", code, stderr)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{&parser.Error{Msg: "x"}, exitParse},
		{fmt.Errorf("main.rite: %w", &parser.Error{Msg: "x"}), exitParse},
		{&vm.Error{Kind: vm.ArithmeticError}, exitRuntime},
		{&vm.Error{Kind: vm.SpiritFailed, Cause: &vm.Error{Kind: vm.TypeMismatch}}, exitRuntime},
		{&vm.Error{Kind: vm.InternalSchedulerError}, exitInternal},
		{errors.New("no such file"), exitRuntime},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
