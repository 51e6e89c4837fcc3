package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// CronScheduledTaskProvider manages unattended renewal runs through drop-in
// files under /etc/cron.d.
type CronScheduledTaskProvider struct {
	cronDir string
	logger  common.LoggerInterface
}

// NewCronScheduledTaskProvider creates a provider over the system cron drop-in
// directory. An empty cronDir selects /etc/cron.d.
func NewCronScheduledTaskProvider(cronDir string, logger common.LoggerInterface) *CronScheduledTaskProvider {
	if cronDir == "" {
		cronDir = "/etc/cron.d"
	}
	if logger == nil {
		logger = DefaultLogger
	}
	return &CronScheduledTaskProvider{cronDir: cronDir, logger: logger}
}

// taskFileName maps a task name to a cron.d-safe file name. cron ignores
// drop-in files containing dots.
func taskFileName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	return safe
}

// CreateDailyTask installs a drop-in running the given executable once per
// day. The password parameter exists for schedulers that need stored
// credentials; cron runs under the named account directly, so it is ignored.
func (p *CronScheduledTaskProvider) CreateDailyTask(name, exePath, args, runAsUser, password string) error {
	if name == "" || exePath == "" {
		return common.NewConfigError("create scheduled task", "Task name and executable path are required")
	}
	if password != "" {
		p.logger.Warn("Stored credentials are not used by cron; ignoring supplied password")
	}
	if runAsUser == "" {
		runAsUser = "root"
	}

	line := fmt.Sprintf("0 3 * * * %s %s %s\n", runAsUser, exePath, args)
	content := "# Managed by go-site-cert-manager. Daily certificate renewal run.\n" + line

	path := filepath.Join(p.cronDir, taskFileName(name))
	if err := os.WriteFile(path, []byte(content), CertificatePermissions); err != nil {
		return common.WrapError(err, common.ErrorTypeInstallation, "create scheduled task",
			"Failed to write cron drop-in").WithResource(path)
	}
	p.logger.Infof("Installed daily renewal task at %s", path)
	return nil
}

// TaskExists reports whether the drop-in for the named task is present.
func (p *CronScheduledTaskProvider) TaskExists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(p.cronDir, taskFileName(name)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// DeleteTask removes the drop-in. Deleting an absent task is not an error.
func (p *CronScheduledTaskProvider) DeleteTask(name string) error {
	err := os.Remove(filepath.Join(p.cronDir, taskFileName(name)))
	if err != nil && !os.IsNotExist(err) {
		return common.WrapError(err, common.ErrorTypeInstallation, "delete scheduled task",
			"Failed to remove cron drop-in").WithResource(taskFileName(name))
	}
	return nil
}

var _ common.ScheduledTaskProvider = (*CronScheduledTaskProvider)(nil)
