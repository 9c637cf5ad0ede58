package preflight

import (
	"flowdeck/internal/jobs"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	sessionsDir      string
	staticDir        string
	cliCommand       string
	autosaveSchedule string
}

// NewChecker creates a new preflight checker
func NewChecker(sessionsDir, staticDir, cliCommand, autosaveSchedule string) *Checker {
	return &Checker{
		sessionsDir:      sessionsDir,
		staticDir:        staticDir,
		cliCommand:       cliCommand,
		autosaveSchedule: autosaveSchedule,
	}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkSessionsDir(),
		c.checkAutosaveSchedule(),
		c.checkCLI(),
		c.checkStaticDir(),
	}

	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

// checkSessionsDir makes sure session files can be written
func (c *Checker) checkSessionsDir() CheckResult {
	name := "Sessions Directory"

	if err := os.MkdirAll(c.sessionsDir, 0755); err != nil {
		return CheckResult{Name: name, Status: "fail", Message: "Cannot create " + c.sessionsDir, Error: err}
	}

	scratch, err := os.CreateTemp(c.sessionsDir, ".preflight-*")
	if err != nil {
		return CheckResult{Name: name, Status: "fail", Message: c.sessionsDir + " is not writable", Error: err}
	}
	scratch.Close()
	os.Remove(scratch.Name())

	return CheckResult{Name: name, Status: "pass", Message: c.sessionsDir + " is writable"}
}

// checkAutosaveSchedule validates the cron expression (empty disables autosave)
func (c *Checker) checkAutosaveSchedule() CheckResult {
	name := "Autosave Schedule"

	if c.autosaveSchedule == "" {
		return CheckResult{Name: name, Status: "warning", Message: "Autosave disabled; sessions are saved on disconnect and shutdown only"}
	}
	if _, err := jobs.ParseSchedule(c.autosaveSchedule); err != nil {
		return CheckResult{Name: name, Status: "fail", Message: "Invalid AUTOSAVE_SCHEDULE", Error: err}
	}
	return CheckResult{Name: name, Status: "pass", Message: c.autosaveSchedule}
}

// checkCLI looks up the external tool's executable. Missing is only a warning: raw
// shell commands still work and the tool may be installed later.
func (c *Checker) checkCLI() CheckResult {
	name := "External CLI"

	fields := strings.Fields(c.cliCommand)
	if len(fields) == 0 {
		return CheckResult{Name: name, Status: "warning", Message: "CLI_COMMAND is empty; only raw shell commands will work"}
	}

	path, err := exec.LookPath(fields[0])
	if err != nil {
		return CheckResult{Name: name, Status: "warning", Message: fmt.Sprintf("%s not found in PATH", fields[0]), Error: err}
	}
	return CheckResult{Name: name, Status: "pass", Message: fmt.Sprintf("%s (%s)", c.cliCommand, path)}
}

// checkStaticDir verifies the UI can be served
func (c *Checker) checkStaticDir() CheckResult {
	name := "Static UI"

	index := filepath.Join(c.staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return CheckResult{Name: name, Status: "warning", Message: index + " not found; GET / will return 404", Error: err}
	}
	return CheckResult{Name: name, Status: "pass", Message: "Serving " + c.staticDir}
}
