// Package app wires the orchestration engine into a command line
// application: flag handling, settings loading, provider construction, and
// subcommand dispatch.
package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/certhost/go-site-cert-manager/pkg/common"
	"github.com/certhost/go-site-cert-manager/pkg/manager"
)

// Config holds application configuration derived from flags.
type Config struct {
	ConfigPath          string
	QuietMode           bool
	DebugMode           bool
	LogLevel            string
	PrintConfigTemplate bool
	ShowVersion         bool
	Version             string

	// Subcommand modifiers.
	Preview         bool
	Fix             bool
	ForceAutoDeploy bool
	TaskUser        string
}

// Application is the top level command line application.
type Application struct {
	config       *Config
	logger       common.LoggerInterface
	flags        *Flags
	cancelFunc   context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once

	// newEngine builds the orchestrator for a loaded settings file. Tests
	// replace it to inject in-memory providers.
	newEngine func(settings *manager.Settings, logger common.LoggerInterface) (*manager.Orchestrator, error)

	// taskProvider builds the OS scheduler provider.
	taskProvider func(logger common.LoggerInterface) common.ScheduledTaskProvider
}

// Flags encapsulates command line flag parsing.
type Flags struct {
	configPath          *string
	quietMode           *bool
	debugMode           *bool
	logLevel            *string
	printConfigTemplate *bool
	showVersion         *bool
	preview             *bool
	fix                 *bool
	forceAutoDeploy     *bool
	taskUser            *string
}

// NewApplication creates a new application instance.
func NewApplication(version string) *Application {
	app := &Application{
		config: &Config{Version: version},
		flags:  &Flags{},
		done:   make(chan struct{}),
	}
	app.newEngine = app.buildProductionEngine
	app.taskProvider = func(logger common.LoggerInterface) common.ScheduledTaskProvider {
		return manager.NewCronScheduledTaskProvider("", logger)
	}
	return app
}

// SetupFlags configures command line flags.
func (app *Application) SetupFlags() {
	app.flags.configPath = flag.String("config", "settings.yaml", "Path to the settings file")
	app.flags.quietMode = flag.Bool("quiet", false, "Reduce output (useful for scheduled runs)")
	app.flags.debugMode = flag.Bool("debug", false, "Enable debug logging")
	app.flags.logLevel = flag.String("log-level", "", "Set logging level (debug|info|warn|error), overrides -debug")
	app.flags.printConfigTemplate = flag.Bool("print-config-template", false, "Print a default settings template to stdout and exit")
	app.flags.showVersion = flag.Bool("version", false, "Show version information and exit")
	app.flags.preview = flag.Bool("preview", false, "Report what would change without changing it (deploy, import)")
	app.flags.fix = flag.Bool("fix", false, "Apply automatic repairs during diagnostics")
	app.flags.forceAutoDeploy = flag.Bool("force-auto-deploy", false, "Correct non-automatic deployment modes during diagnostics")
	app.flags.taskUser = flag.String("task-user", "", "Account the scheduled renewal task runs as (schedule install)")

	flag.Usage = app.printUsage
}

// ParseFlags parses command line flags and populates config.
func (app *Application) ParseFlags() {
	flag.Parse()

	app.config.ConfigPath = *app.flags.configPath
	app.config.QuietMode = *app.flags.quietMode
	app.config.DebugMode = *app.flags.debugMode
	app.config.LogLevel = *app.flags.logLevel
	app.config.PrintConfigTemplate = *app.flags.printConfigTemplate
	app.config.ShowVersion = *app.flags.showVersion
	app.config.Preview = *app.flags.preview
	app.config.Fix = *app.flags.fix
	app.config.ForceAutoDeploy = *app.flags.forceAutoDeploy
	app.config.TaskUser = *app.flags.taskUser
}

func (app *Application) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [arguments]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  Manages site certificates: issuance, installation, deployment, and renewal.\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  renew                      Renew every managed certificate that is due\n")
	fmt.Fprintf(os.Stderr, "  request <name>             Request and install the named managed certificate now\n")
	fmt.Fprintf(os.Stderr, "  deploy <name> [task]       Run deployment tasks for the named managed certificate\n")
	fmt.Fprintf(os.Stderr, "  diagnostics                Scan records for configuration drift (use -fix to repair)\n")
	fmt.Fprintf(os.Stderr, "  list                       List managed certificates and their renewal state\n")
	fmt.Fprintf(os.Stderr, "  import                     Create managed records from the site binding inventory\n")
	fmt.Fprintf(os.Stderr, "  schedule install|remove|status   Manage the daily unattended renewal task\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
}

// HandleVersionFlag handles the version display flag.
func (app *Application) HandleVersionFlag() bool {
	if app.config.ShowVersion {
		fmt.Printf("go-site-cert-manager %s\n", app.config.Version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return true
	}
	return false
}

// SetupLogger configures the application logger from the flag set.
func (app *Application) SetupLogger() {
	level := manager.LogLevelInfo
	if app.config.LogLevel != "" {
		level = manager.ParseLogLevel(app.config.LogLevel)
	} else if app.config.QuietMode {
		level = manager.LogLevelQuiet
	} else if app.config.DebugMode {
		level = manager.LogLevelDebug
	}

	manager.SetupDefaultLogger(level)
	app.logger = manager.DefaultLogger
}

// HandleConfigTemplate handles the settings template printing.
func (app *Application) HandleConfigTemplate() bool {
	if app.config.PrintConfigTemplate {
		if err := manager.GenerateDefaultSettings(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error printing settings template: %v\n", err)
		}
		return true
	}
	return false
}

// LoadSettings resolves and loads the settings file. Environment variables
// from a .env file next to the working directory are applied first, without
// overriding variables already set in the process environment.
func (app *Application) LoadSettings() (*manager.Settings, error) {
	if err := godotenv.Load(); err == nil {
		app.logger.Debug("Loaded environment overrides from .env")
	}

	absConfigPath, err := filepath.Abs(app.config.ConfigPath)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "resolve settings path",
			"Failed to resolve absolute path for settings file").WithResource(app.config.ConfigPath)
	}
	app.config.ConfigPath = absConfigPath

	if _, err := os.Stat(absConfigPath); os.IsNotExist(err) {
		return nil, common.NewConfigError("locate settings file", "Settings file not found").
			WithResource(absConfigPath).
			AddSuggestion("Use -print-config-template to generate a template")
	}

	app.logger.Debugf("Loading settings from %s", absConfigPath)
	settings, err := manager.LoadSettings(absConfigPath)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "parse settings file",
			"Failed to parse settings file").WithResource(absConfigPath)
	}
	return settings, nil
}

// buildProductionEngine wires the real providers: the JSON record store, the
// ACME certificate authority, and the webroot binding provider.
func (app *Application) buildProductionEngine(settings *manager.Settings, logger common.LoggerInterface) (*manager.Orchestrator, error) {
	store, err := manager.NewStore(settings.StorePath())
	if err != nil {
		return nil, err
	}

	ca := manager.NewLegoCAProvider(settings, logger, nil)
	bindings := manager.NewSiteBindingProvider(settings, store, logger, nil)

	return manager.NewOrchestrator(store, ca, bindings, settings, logger), nil
}

// setupGracefulShutdown sets up signal handling for graceful shutdown.
func (app *Application) setupGracefulShutdown(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	app.cancelFunc = cancel

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			if app.logger != nil {
				app.logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
			}
			app.Shutdown()
		case <-ctx.Done():
			app.Shutdown()
		}
	}()

	return ctx
}

// Shutdown gracefully shuts down the application. Safe to call repeatedly.
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		if app.cancelFunc != nil {
			app.cancelFunc()
		}
		close(app.done)
	})
}

// WaitForShutdown waits for the application to shut down.
func (app *Application) WaitForShutdown() {
	<-app.done
}

// Run executes the selected subcommand.
func (app *Application) Run(ctx context.Context) error {
	ctx = app.setupGracefulShutdown(ctx)
	ctx = common.WithRequestID(ctx)
	defer app.Shutdown()

	if app.HandleVersionFlag() {
		return nil
	}
	if app.HandleConfigTemplate() {
		return nil
	}

	app.SetupLogger()
	app.logger.Debugf("go-site-cert-manager %s starting (request: %s)",
		app.config.Version, common.GetRequestID(ctx))

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return common.NewValidationError("select command", "No command specified").
			AddSuggestion("Run with -h for usage information")
	}

	settings, err := app.LoadSettings()
	if err != nil {
		return err
	}

	engine, err := app.newEngine(settings, app.logger)
	if err != nil {
		return err
	}

	return app.RunCommand(ctx, engine, settings, args)
}

// RunCommand dispatches one subcommand against a wired engine.
func (app *Application) RunCommand(ctx context.Context, engine *manager.Orchestrator, settings *manager.Settings, args []string) error {
	command, rest := args[0], args[1:]

	switch command {
	case "renew":
		return app.runRenew(ctx, engine)
	case "request":
		if len(rest) != 1 {
			return common.NewValidationError("parse arguments", "request needs exactly one managed certificate name")
		}
		return app.runRequest(ctx, engine, rest[0])
	case "deploy":
		if len(rest) < 1 || len(rest) > 2 {
			return common.NewValidationError("parse arguments", "deploy needs a managed certificate name and an optional task name")
		}
		taskName := ""
		if len(rest) == 2 {
			taskName = rest[1]
		}
		return app.runDeploy(ctx, engine, rest[0], taskName)
	case "diagnostics":
		return app.runDiagnostics(ctx, engine)
	case "list":
		return app.runList(engine, settings)
	case "import":
		return app.runImport(ctx, engine)
	case "schedule":
		if len(rest) != 1 {
			return common.NewValidationError("parse arguments", "schedule needs one of: install, remove, status")
		}
		return app.runSchedule(rest[0])
	default:
		return common.NewValidationError("select command",
			fmt.Sprintf("Unknown command %q", command)).
			AddSuggestion("Run with -h for usage information")
	}
}

func (app *Application) runRenew(ctx context.Context, engine *manager.Orchestrator) error {
	progress := app.startProgressPrinter(ctx)

	results, err := engine.RenewAll(ctx, progress)
	if err != nil {
		return err
	}

	failed := 0
	for _, result := range results {
		status := "OK"
		if !result.IsSuccess {
			status = "FAILED"
			failed++
		}
		app.logger.Importantf("%s: %s (%s)", result.ManagedItem.Name, status, result.Message)
	}
	if failed > 0 {
		return common.NewIssuanceError("renew certificates",
			fmt.Sprintf("%d of %d renewal(s) failed", failed, len(results)))
	}
	return nil
}

func (app *Application) runRequest(ctx context.Context, engine *manager.Orchestrator, name string) error {
	matches, err := engine.Store().FindByName(name)
	if err != nil {
		return err
	}
	switch len(matches) {
	case 1:
	case 0:
		return common.NewLookupError("select managed certificate",
			fmt.Sprintf("Managed certificate name %q has no matches.", name))
	default:
		return common.NewLookupError("select managed certificate",
			fmt.Sprintf("Managed certificate name %q matched more than one item.", name))
	}

	progress := app.startProgressPrinter(ctx)
	result := engine.PerformCertificateRequest(ctx, matches[0], progress)
	if !result.IsSuccess {
		return common.NewIssuanceError("request certificate", result.Message)
	}
	app.logger.Importantf("%s", result.Message)
	return nil
}

func (app *Application) runDeploy(ctx context.Context, engine *manager.Orchestrator, name, taskName string) error {
	results, err := engine.PerformDeployment(ctx, name, taskName, app.config.Preview)
	if err != nil {
		return err
	}

	failed := 0
	for _, step := range results {
		if step.HasError {
			failed++
			app.logger.Errorf("%s", step.Description)
		} else {
			app.logger.Importantf("%s", step.Description)
		}
	}
	if failed > 0 {
		return common.NewInstallationError("run deployment tasks",
			fmt.Sprintf("%d deployment step(s) failed", failed))
	}
	return nil
}

func (app *Application) runDiagnostics(ctx context.Context, engine *manager.Orchestrator) error {
	results, err := engine.RunCertDiagnostics(ctx, app.config.Fix, app.config.ForceAutoDeploy)
	if err != nil {
		return err
	}

	findings := 0
	for _, result := range results {
		if len(result.Messages) == 0 {
			continue
		}
		findings++
		app.logger.Importantf("%s:", result.RecordName)
		for _, msg := range result.Messages {
			app.logger.Importantf("  %s", msg)
		}
		if result.RequiresManualIntervention {
			app.logger.Warnf("  Manual intervention required for %s", result.RecordName)
		}
	}
	if findings == 0 {
		app.logger.Importantf("All %d record(s) are consistent.", len(results))
	} else if !app.config.Fix {
		app.logger.Importantf("Run again with -fix to repair the findings above.")
	}
	return nil
}

func (app *Application) runList(engine *manager.Orchestrator, settings *manager.Settings) error {
	records, err := engine.Store().List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		app.logger.Importantf("No managed certificates.")
		return nil
	}

	threshold := settings.RenewalThreshold()
	now := time.Now()
	for i := range records {
		record := &records[i]
		state := "not due"
		if !record.IncludeInAutoRenew {
			state = "auto-renew off"
		} else if manager.IsRenewalDue(record, threshold, now) {
			state = "due"
		}
		expires := "never issued"
		if record.DateExpiry != nil {
			expires = record.DateExpiry.Format("2006-01-02")
		}
		app.logger.Importantf("%-30s %-25s expires %-12s %s",
			record.Name, record.RequestConfig.PrimaryDomain, expires, state)
	}
	return nil
}

func (app *Application) runImport(ctx context.Context, engine *manager.Orchestrator) error {
	results, err := engine.ImportFromSiteBindings(ctx, app.config.Preview)
	if err != nil {
		return err
	}

	verb := "Imported"
	if app.config.Preview {
		verb = "Would import"
	}
	for _, result := range results {
		action := "new record"
		if result.Merged {
			action = "merged into existing record"
		}
		app.logger.Importantf("%s %s (%s): %v", verb, result.RecordName, action, result.Domains)
	}
	if len(results) == 0 {
		app.logger.Importantf("Nothing to import; all site hostnames are already managed.")
	}
	return nil
}

func (app *Application) runSchedule(action string) error {
	provider := app.taskProvider(app.logger)

	switch action {
	case "install":
		exePath, err := os.Executable()
		if err != nil {
			return common.WrapError(err, common.ErrorTypeConfig, "install scheduled task",
				"Failed to resolve the running executable path")
		}
		args := fmt.Sprintf("-config %s -quiet renew", app.config.ConfigPath)
		if err := provider.CreateDailyTask(manager.ScheduledTaskName, exePath, args, app.config.TaskUser, ""); err != nil {
			return err
		}
		app.logger.Importantf("Daily renewal task installed.")
		return nil
	case "remove":
		if err := provider.DeleteTask(manager.ScheduledTaskName); err != nil {
			return err
		}
		app.logger.Importantf("Daily renewal task removed.")
		return nil
	case "status":
		exists, err := provider.TaskExists(manager.ScheduledTaskName)
		if err != nil {
			return err
		}
		if exists {
			app.logger.Importantf("Daily renewal task is installed.")
		} else {
			app.logger.Importantf("Daily renewal task is not installed.")
		}
		return nil
	default:
		return common.NewValidationError("parse arguments",
			fmt.Sprintf("Unknown schedule action %q", action)).
			AddSuggestion("Use one of: install, remove, status")
	}
}

// startProgressPrinter consumes workflow progress milestones and logs them at
// debug level. The returned channel is drained until the context ends, so the
// workflow's fire-and-forget sends find a receiver when one is available.
func (app *Application) startProgressPrinter(ctx context.Context) chan common.RequestProgressState {
	progress := make(chan common.RequestProgressState, 16)
	go func() {
		for {
			select {
			case state := <-progress:
				app.logger.Debugf("progress: %s", state.Message)
			case <-ctx.Done():
				return
			}
		}
	}()
	return progress
}
