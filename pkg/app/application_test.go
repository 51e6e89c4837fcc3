package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/certhost/go-site-cert-manager/pkg/common"
	"github.com/certhost/go-site-cert-manager/pkg/manager"
	"github.com/certhost/go-site-cert-manager/pkg/manager/test_mocks"
)

type appFixture struct {
	app      *Application
	engine   *manager.Orchestrator
	settings *manager.Settings
	store    *manager.Store
	ca       *test_mocks.MockCAProvider
	bindings *test_mocks.MockBindingProvider
	tasks    *test_mocks.MockScheduledTaskProvider
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()

	dir := t.TempDir()
	store, err := manager.NewStore(filepath.Join(dir, manager.StoreFileName))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	settings := &manager.Settings{
		DataPath:            dir,
		RenewalIntervalDays: manager.DefaultRenewalIntervalDays,
	}
	ca := test_mocks.NewMockCAProvider()
	bindings := test_mocks.NewMockBindingProvider()
	tasks := test_mocks.NewMockScheduledTaskProvider()

	application := NewApplication("test")
	application.logger = manager.NewLogger(&strings.Builder{}, manager.LogLevelQuiet)
	application.taskProvider = func(common.LoggerInterface) common.ScheduledTaskProvider {
		return tasks
	}

	return &appFixture{
		app:      application,
		engine:   manager.NewOrchestrator(store, ca, bindings, settings, application.logger),
		settings: settings,
		store:    store,
		ca:       ca,
		bindings: bindings,
		tasks:    tasks,
	}
}

func (f *appFixture) run(t *testing.T, args ...string) error {
	t.Helper()
	return f.app.RunCommand(context.Background(), f.engine, f.settings, args)
}

func TestRunCommandUnknown(t *testing.T) {
	f := newAppFixture(t)

	err := f.run(t, "frobnicate")
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	appErr := common.GetApplicationError(err)
	if appErr == nil || !appErr.IsType(common.ErrorTypeValidation) {
		t.Errorf("expected VALIDATION error, got %v", err)
	}
}

func TestRunCommandRenewEmptyStore(t *testing.T) {
	f := newAppFixture(t)
	if err := f.run(t, "renew"); err != nil {
		t.Errorf("renew over an empty store must succeed, got %v", err)
	}
}

func TestRunCommandRequestUnknownName(t *testing.T) {
	f := newAppFixture(t)

	err := f.run(t, "request", "nope")
	if err == nil || !strings.Contains(err.Error(), "no matches") {
		t.Errorf("expected no-matches lookup error, got %v", err)
	}
}

func TestRunCommandRequest(t *testing.T) {
	f := newAppFixture(t)

	record := common.ManagedCertificate{
		ID:   "rec-1",
		Name: "shop cert",
		RequestConfig: common.CertRequestConfig{
			PrimaryDomain:           "shop.example.com",
			PerformAutomatedBinding: true,
		},
	}
	if err := f.store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := f.run(t, "request", "shop cert"); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if len(f.ca.RequestCertificateCalls) != 1 {
		t.Error("expected one certificate order")
	}
}

func TestRunCommandDeployArgumentValidation(t *testing.T) {
	f := newAppFixture(t)

	if err := f.run(t, "deploy"); err == nil {
		t.Error("deploy without a name must fail")
	}
	if err := f.run(t, "deploy", "a", "b", "c"); err == nil {
		t.Error("deploy with too many arguments must fail")
	}
}

func TestRunCommandDiagnostics(t *testing.T) {
	f := newAppFixture(t)
	f.app.config.Fix = true

	record := common.ManagedCertificate{
		ID:           "rec-1",
		Name:         "drifted",
		GroupID:      "5x",
		ServerSiteID: "5x",
		RequestConfig: common.CertRequestConfig{
			PrimaryDomain: "example.com",
		},
	}
	if err := f.store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := f.run(t, "diagnostics"); err != nil {
		t.Fatalf("diagnostics failed: %v", err)
	}

	fixed, err := f.store.Get("rec-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fixed.ServerSiteID != "5" {
		t.Errorf("site linkage not repaired, got %q", fixed.ServerSiteID)
	}
}

func TestRunCommandScheduleLifecycle(t *testing.T) {
	f := newAppFixture(t)

	if err := f.run(t, "schedule", "install"); err != nil {
		t.Fatalf("schedule install failed: %v", err)
	}
	if _, ok := f.tasks.Tasks[manager.ScheduledTaskName]; !ok {
		t.Fatal("task not created")
	}

	if err := f.run(t, "schedule", "status"); err != nil {
		t.Errorf("schedule status failed: %v", err)
	}

	if err := f.run(t, "schedule", "remove"); err != nil {
		t.Fatalf("schedule remove failed: %v", err)
	}
	if _, ok := f.tasks.Tasks[manager.ScheduledTaskName]; ok {
		t.Error("task not removed")
	}

	if err := f.run(t, "schedule", "reboot"); err == nil {
		t.Error("unknown schedule action must fail")
	}
}

func TestRunCommandImportPreview(t *testing.T) {
	f := newAppFixture(t)
	f.app.config.Preview = true
	f.bindings.SiteBindings = []common.SiteBindingInfo{
		{SiteID: "1", SiteName: "Main", Host: "example.com", IsRunning: true},
	}

	if err := f.run(t, "import"); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	records, err := f.store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 0 {
		t.Error("preview import must not persist records")
	}
}

func TestRunCommandList(t *testing.T) {
	f := newAppFixture(t)
	if err := f.run(t, "list"); err != nil {
		t.Errorf("list over an empty store must succeed, got %v", err)
	}
}
