package manager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// PerformDeployment runs deployment tasks for the managed certificate with
// the given display name. An empty taskName runs every task on the record in
// order; otherwise the single task whose name matches (ignoring case and
// surrounding whitespace) is run. Step failures stop the containing task at
// the failed step.
func (o *Orchestrator) PerformDeployment(ctx context.Context, managedCertName, taskName string, isPreviewOnly bool) ([]common.DeploymentTaskResult, error) {
	record, err := o.findSingleByName(managedCertName)
	if err != nil {
		return nil, err
	}

	tasks := record.DeploymentTasks
	if taskName != "" {
		task, ok := matchTask(tasks, taskName)
		if !ok {
			return nil, common.NewLookupError("select deployment task",
				fmt.Sprintf("Deployment task %q not found on %q.", taskName, record.Name))
		}
		tasks = []common.DeploymentTask{task}
	}

	var results []common.DeploymentTaskResult
	for _, task := range tasks {
		o.logger.Infof("Running deployment task: %s", task.Name)
		results = append(results, o.runTask(ctx, record, task, isPreviewOnly)...)
	}
	return results, nil
}

// matchTask finds a task by name, ignoring case and surrounding whitespace on
// both sides of the comparison.
func matchTask(tasks []common.DeploymentTask, name string) (common.DeploymentTask, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, task := range tasks {
		if strings.ToLower(strings.TrimSpace(task.Name)) == want {
			return task, true
		}
	}
	return common.DeploymentTask{}, false
}

// runTask executes the task's steps in order, stopping at the first failure.
// Each executed step contributes one result.
func (o *Orchestrator) runTask(ctx context.Context, record *common.ManagedCertificate, task common.DeploymentTask, isPreviewOnly bool) []common.DeploymentTaskResult {
	var results []common.DeploymentTaskResult
	for _, step := range task.Steps {
		result := o.runStep(ctx, record, step, isPreviewOnly)
		results = append(results, result)
		if result.HasError {
			o.logger.Errorf("Deployment task %s stopped: %s", task.Name, result.Description)
			break
		}
		o.logger.Infof("%s", result.Description)
	}
	return results
}

func (o *Orchestrator) runStep(ctx context.Context, record *common.ManagedCertificate, step common.DeploymentStep, isPreviewOnly bool) common.DeploymentTaskResult {
	switch step.Kind {
	case common.StepKindReapplyBindings:
		return o.stepReapplyBindings(ctx, record, isPreviewOnly)
	case common.StepKindRunScript:
		return o.stepRunScript(ctx, record, step.Target, isPreviewOnly)
	case common.StepKindExportCertificate:
		return o.stepExportCertificate(record, step.Target, isPreviewOnly)
	default:
		return common.DeploymentTaskResult{
			HasError:    true,
			Description: fmt.Sprintf("Unknown deployment step kind: %s", step.Kind),
		}
	}
}

func (o *Orchestrator) stepReapplyBindings(ctx context.Context, record *common.ManagedCertificate, isPreviewOnly bool) common.DeploymentTaskResult {
	changed, err := o.bindings.ReapplyBindings(ctx, record.ID, isPreviewOnly)
	if err != nil {
		return common.DeploymentTaskResult{
			HasError:    true,
			Description: fmt.Sprintf("Failed to reapply bindings for %s: %v", record.Name, err),
		}
	}
	desc := fmt.Sprintf("Bindings already current for %s", record.Name)
	if changed {
		desc = fmt.Sprintf("Bindings updated for %s", record.Name)
	}
	if isPreviewOnly {
		desc = "[preview] " + desc
	}
	return common.DeploymentTaskResult{IsSuccess: true, Description: desc}
}

// stepRunScript invokes a post-deployment hook script with the certificate
// artifact path as its argument.
func (o *Orchestrator) stepRunScript(ctx context.Context, record *common.ManagedCertificate, scriptPath string, isPreviewOnly bool) common.DeploymentTaskResult {
	if scriptPath == "" {
		return common.DeploymentTaskResult{HasError: true, Description: "Script step has no script path"}
	}
	if isPreviewOnly {
		return common.DeploymentTaskResult{
			IsSuccess:   true,
			Description: fmt.Sprintf("[preview] Would run script: %s %s", scriptPath, record.CertificatePath),
		}
	}

	cmd := exec.CommandContext(ctx, scriptPath, record.CertificatePath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return common.DeploymentTaskResult{
			HasError:    true,
			Description: fmt.Sprintf("Script %s failed: %v: %s", scriptPath, err, strings.TrimSpace(string(output))),
		}
	}
	return common.DeploymentTaskResult{
		IsSuccess:   true,
		Description: fmt.Sprintf("Script completed: %s", scriptPath),
	}
}

// stepExportCertificate copies the issued artifact to an external location,
// e.g. a directory watched by another service.
func (o *Orchestrator) stepExportCertificate(record *common.ManagedCertificate, destPath string, isPreviewOnly bool) common.DeploymentTaskResult {
	if record.CertificatePath == "" {
		return common.DeploymentTaskResult{
			HasError:    true,
			Description: fmt.Sprintf("No certificate has been issued for %s yet", record.Name),
		}
	}
	if destPath == "" {
		return common.DeploymentTaskResult{HasError: true, Description: "Export step has no destination path"}
	}
	if isPreviewOnly {
		return common.DeploymentTaskResult{
			IsSuccess:   true,
			Description: fmt.Sprintf("[preview] Would export %s to %s", record.CertificatePath, destPath),
		}
	}

	data, err := os.ReadFile(record.CertificatePath)
	if err != nil {
		return common.DeploymentTaskResult{
			HasError:    true,
			Description: fmt.Sprintf("Failed to read certificate artifact: %v", err),
		}
	}
	if err := os.MkdirAll(filepath.Dir(destPath), DirPermissions); err != nil {
		return common.DeploymentTaskResult{
			HasError:    true,
			Description: fmt.Sprintf("Failed to create export directory: %v", err),
		}
	}
	if err := os.WriteFile(destPath, data, CertificatePermissions); err != nil {
		return common.DeploymentTaskResult{
			HasError:    true,
			Description: fmt.Sprintf("Failed to export certificate: %v", err),
		}
	}
	return common.DeploymentTaskResult{
		IsSuccess:   true,
		Description: fmt.Sprintf("Exported certificate to %s", destPath),
	}
}
