package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd("1.0.0")

	if cmd.Use != "memex" {
		t.Errorf("Use = %q, want memex", cmd.Use)
	}
	if cmd.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", cmd.Version)
	}
	for _, name := range []string{"env", "config"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing --%s flag", name)
		}
	}

	want := map[string]bool{"serve": false, "migrate": false, "tasks": false, "collections": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %s subcommand", name)
		}
	}
}

func TestServeCmd_RoleFlag(t *testing.T) {
	f := NewServeCmd().Flags().Lookup("role")
	if f == nil {
		t.Fatal("missing --role flag")
	}
	if f.DefValue != roleAll {
		t.Errorf("role default = %q, want %q", f.DefValue, roleAll)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		role        string
		api, worker bool
		wantErr     bool
	}{
		{roleAPI, true, false, false},
		{roleWorker, false, true, false},
		{roleAll, true, true, false},
		{"scheduler", false, false, true},
		{"", false, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			api, worker, err := parseRole(tc.role)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if api != tc.api || worker != tc.worker {
				t.Errorf("got api=%v worker=%v", api, worker)
			}
		})
	}
}

func TestParseTaskID(t *testing.T) {
	if id, err := parseTaskID("42"); err != nil || id != 42 {
		t.Errorf("parseTaskID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"0", "-1", "abc", ""} {
		if _, err := parseTaskID(bad); err == nil {
			t.Errorf("parseTaskID(%q): expected error", bad)
		}
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	data := "database:\n  url: sqlite://" + filepath.Join(dir, "memex.db") + "\n" +
		"vector:\n  url: chromem://" + filepath.Join(dir, "vectors") + "\n" +
		"embedding:\n  provider: hash\n  dimensions: 32\n"
	path := filepath.Join(dir, "memex.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCmd(t *testing.T) {
	out, err := execute(t, "migrate", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "sqlite schema at version ") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCollectionsList_Empty(t *testing.T) {
	out, err := execute(t, "collections", "list", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("expected no collections, got %q", out)
	}
}

func TestTasksShow_NotFound(t *testing.T) {
	if _, err := execute(t, "tasks", "show", "7", "--config", writeConfig(t)); err == nil {
		t.Fatal("expected error for missing task")
	}
}

func TestTasksRequeueStale(t *testing.T) {
	out, err := execute(t, "tasks", "requeue-stale", "--older-than", "1m", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "requeued 0, failed 0\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "migrate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config")
	}
}
