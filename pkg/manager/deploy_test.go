package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

func deployTestRecord() common.ManagedCertificate {
	record := testRecord("rec-1", "example.com")
	record.DeploymentTasks = []common.DeploymentTask{
		{
			Name:  "Backup",
			Steps: []common.DeploymentStep{{Kind: common.StepKindReapplyBindings}},
		},
		{
			Name:  "Notify",
			Steps: []common.DeploymentStep{{Kind: common.StepKindReapplyBindings}},
		},
	}
	return record
}

func TestDeploymentTaskMatchIgnoresCaseAndWhitespace(t *testing.T) {
	engine := newTestEngine(t)
	record := deployTestRecord()
	if err := engine.store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := engine.orchestrator.PerformDeployment(context.Background(), record.Name, "  BACKUP  ", false)
	if err != nil {
		t.Fatalf("PerformDeployment failed: %v", err)
	}
	if len(results) != 1 || !results[0].IsSuccess {
		t.Errorf("expected 1 successful step, got %+v", results)
	}
	if len(engine.bindings.ReapplyCalls) != 1 {
		t.Errorf("expected 1 reapply call, got %d", len(engine.bindings.ReapplyCalls))
	}
}

func TestDeploymentRunsAllTasksWhenUnnamed(t *testing.T) {
	engine := newTestEngine(t)
	record := deployTestRecord()
	if err := engine.store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := engine.orchestrator.PerformDeployment(context.Background(), record.Name, "", false)
	if err != nil {
		t.Fatalf("PerformDeployment failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected both tasks run, got %d results", len(results))
	}
}

func TestDeploymentUnknownTask(t *testing.T) {
	engine := newTestEngine(t)
	record := deployTestRecord()
	if err := engine.store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	_, err := engine.orchestrator.PerformDeployment(context.Background(), record.Name, "does-not-exist", false)
	if err == nil {
		t.Fatal("expected error for unknown task name")
	}
	appErr := common.GetApplicationError(err)
	if appErr == nil || !appErr.IsType(common.ErrorTypeLookup) {
		t.Errorf("expected LOOKUP error, got %v", err)
	}
}

func TestDeploymentNameResolution(t *testing.T) {
	engine := newTestEngine(t)
	record := deployTestRecord()
	duplicate := record
	duplicate.ID = "rec-2"
	for _, rec := range []common.ManagedCertificate{record, duplicate} {
		if err := engine.store.Upsert(rec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	t.Run("no matches", func(t *testing.T) {
		_, err := engine.orchestrator.PerformDeployment(context.Background(), "unknown cert", "", false)
		if err == nil || !strings.Contains(err.Error(), "no matches") {
			t.Errorf("expected no-matches error, got %v", err)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := engine.orchestrator.PerformDeployment(context.Background(), record.Name, "", false)
		if err == nil || !strings.Contains(err.Error(), "matched more than one item") {
			t.Errorf("expected ambiguity error, got %v", err)
		}
	})
}

func TestDeploymentStopsAtFirstFailedStep(t *testing.T) {
	engine := newTestEngine(t)
	record := testRecord("rec-1", "example.com")
	record.DeploymentTasks = []common.DeploymentTask{
		{
			Name: "Broken",
			Steps: []common.DeploymentStep{
				{Kind: common.StepKindRunScript, Target: ""}, // missing script path
				{Kind: common.StepKindReapplyBindings},
			},
		},
	}
	if err := engine.store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := engine.orchestrator.PerformDeployment(context.Background(), record.Name, "Broken", false)
	if err != nil {
		t.Fatalf("PerformDeployment failed: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result (later steps not run), got %d", len(results))
	}
	if !results[0].HasError {
		t.Error("first result must carry the step failure")
	}
	if len(engine.bindings.ReapplyCalls) != 0 {
		t.Error("steps after a failure must not run")
	}
}

func TestDeploymentExportStep(t *testing.T) {
	engine := newTestEngine(t)

	artifact := filepath.Join(t.TempDir(), "example.com.crt")
	if err := os.WriteFile(artifact, []byte("PEM DATA"), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "exported", "example.com.crt")

	record := testRecord("rec-1", "example.com")
	record.CertificatePath = artifact
	record.DeploymentTasks = []common.DeploymentTask{
		{
			Name:  "Export",
			Steps: []common.DeploymentStep{{Kind: common.StepKindExportCertificate, Target: dest}},
		},
	}
	if err := engine.store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := engine.orchestrator.PerformDeployment(context.Background(), record.Name, "Export", false)
	if err != nil {
		t.Fatalf("PerformDeployment failed: %v", err)
	}
	if len(results) != 1 || !results[0].IsSuccess {
		t.Fatalf("expected successful export, got %+v", results)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("exported file missing: %v", err)
	}
	if string(data) != "PEM DATA" {
		t.Error("exported content does not match artifact")
	}
}

func TestDeploymentPreviewDoesNotTouchTargets(t *testing.T) {
	engine := newTestEngine(t)

	dest := filepath.Join(t.TempDir(), "exported.crt")
	record := testRecord("rec-1", "example.com")
	record.CertificatePath = "/somewhere/example.com.crt"
	record.DeploymentTasks = []common.DeploymentTask{
		{
			Name:  "Export",
			Steps: []common.DeploymentStep{{Kind: common.StepKindExportCertificate, Target: dest}},
		},
	}
	if err := engine.store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := engine.orchestrator.PerformDeployment(context.Background(), record.Name, "Export", true)
	if err != nil {
		t.Fatalf("PerformDeployment failed: %v", err)
	}
	if len(results) != 1 || !results[0].IsSuccess {
		t.Fatalf("expected preview success, got %+v", results)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("preview must not write the export target")
	}
}
