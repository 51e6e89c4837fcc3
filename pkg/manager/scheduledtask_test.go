package manager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCronTaskLifecycle(t *testing.T) {
	dir := t.TempDir()
	provider := NewCronScheduledTaskProvider(dir, nil)

	exists, err := provider.TaskExists(ScheduledTaskName)
	if err != nil {
		t.Fatalf("TaskExists failed: %v", err)
	}
	if exists {
		t.Fatal("task should not exist yet")
	}

	if err := provider.CreateDailyTask(ScheduledTaskName, "/usr/local/bin/site-cert-manager", "renew", "certmgr", ""); err != nil {
		t.Fatalf("CreateDailyTask failed: %v", err)
	}

	exists, err = provider.TaskExists(ScheduledTaskName)
	if err != nil {
		t.Fatalf("TaskExists failed: %v", err)
	}
	if !exists {
		t.Fatal("task should exist after creation")
	}

	data, err := os.ReadFile(filepath.Join(dir, ScheduledTaskName))
	if err != nil {
		t.Fatalf("reading drop-in: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "certmgr /usr/local/bin/site-cert-manager renew") {
		t.Errorf("unexpected drop-in content: %s", content)
	}
	if !strings.HasPrefix(strings.TrimSpace(strings.SplitN(content, "\n", 2)[1]), "0 3 * * *") {
		t.Errorf("expected daily schedule line, got: %s", content)
	}

	if err := provider.DeleteTask(ScheduledTaskName); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	exists, _ = provider.TaskExists(ScheduledTaskName)
	if exists {
		t.Error("task should be gone after deletion")
	}

	// Deleting again is not an error.
	if err := provider.DeleteTask(ScheduledTaskName); err != nil {
		t.Errorf("deleting absent task should not fail: %v", err)
	}
}

func TestCronTaskNameSanitized(t *testing.T) {
	dir := t.TempDir()
	provider := NewCronScheduledTaskProvider(dir, nil)

	if err := provider.CreateDailyTask("weird.name with/chars", "/bin/true", "", "", ""); err != nil {
		t.Fatalf("CreateDailyTask failed: %v", err)
	}

	// cron ignores drop-ins containing dots; the file name must be safe.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 drop-in, got %d", len(entries))
	}
	if strings.ContainsAny(entries[0].Name(), "./ ") {
		t.Errorf("unsafe characters in drop-in name: %s", entries[0].Name())
	}
}

func TestCronTaskRequiresNameAndExecutable(t *testing.T) {
	provider := NewCronScheduledTaskProvider(t.TempDir(), nil)
	if err := provider.CreateDailyTask("", "/bin/true", "", "", ""); err == nil {
		t.Error("expected error for empty task name")
	}
	if err := provider.CreateDailyTask("task", "", "", "", ""); err == nil {
		t.Error("expected error for empty executable path")
	}
}
