package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// CLIPlaceholder is replaced by the configured CLI command in catalog templates
const CLIPlaceholder = "{{cli}}"

// builtinCommands maps panel shortcuts to external CLI invocations
var builtinCommands = map[string]string{
	"help":               "{{cli}} --help",
	"version":            "{{cli}} --version",
	"status":             "{{cli}} status",
	"init":               "{{cli}} init --force",
	"swarm init":         "{{cli}} swarm init --topology hierarchical --max-agents 8",
	"swarm status":       "{{cli}} swarm status",
	"swarm monitor":      "{{cli}} swarm monitor --duration 10",
	"agent list":         "{{cli}} agent list",
	"agent spawn":        "{{cli}} agent spawn",
	"agent metrics":      "{{cli}} agent metrics",
	"task orchestrate":   "{{cli}} task orchestrate",
	"task status":        "{{cli}} task status",
	"memory stats":       "{{cli}} memory stats",
	"memory list":        "{{cli}} memory list",
	"neural status":      "{{cli}} neural status",
	"neural train":       "{{cli}} neural train --pattern coordination --epochs 50",
	"hive-mind status":   "{{cli}} hive-mind status",
	"hive-mind wizard":   "{{cli}} hive-mind wizard",
	"sparc modes":        "{{cli}} sparc modes",
	"benchmark run":      "{{cli}} benchmark run",
	"performance report": "{{cli}} performance report --format summary",
	"github status":      "{{cli}} github status",
}

// CatalogFile is the YAML layout of the commands file
type CatalogFile struct {
	CLI      string            `yaml:"cli"`
	Commands map[string]string `yaml:"commands"`
}

// CommandCatalog resolves panel commands to shell command lines.
// Built-ins can be overridden or extended by a YAML file which is hot-reloaded.
type CommandCatalog struct {
	mu       sync.RWMutex
	cli      string
	defCLI   string
	path     string
	commands map[string]string
}

// NewCommandCatalog creates a catalog for cli, loading path if it exists.
// A missing or broken file leaves the built-ins in place.
func NewCommandCatalog(cli, path string) *CommandCatalog {
	c := &CommandCatalog{
		cli:      cli,
		defCLI:   cli,
		path:     path,
		commands: copyCommands(builtinCommands),
	}
	if path != "" {
		if err := c.Reload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("⚠️  [CATALOG] Failed to load %s: %v (using built-in commands)", path, err)
		}
	}
	return c
}

func copyCommands(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func normalizeCommand(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// Reload re-reads the commands file. On error the current table is kept.
func (c *CommandCatalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}

	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse commands file: %w", err)
	}

	commands := copyCommands(builtinCommands)
	for name, template := range file.Commands {
		name = normalizeCommand(name)
		if name == "" || strings.TrimSpace(template) == "" {
			continue
		}
		commands[name] = template
	}

	cli := c.defCLI
	if strings.TrimSpace(file.CLI) != "" {
		cli = strings.TrimSpace(file.CLI)
	}

	c.mu.Lock()
	c.commands = commands
	c.cli = cli
	c.mu.Unlock()

	log.Printf("📋 [CATALOG] Loaded %d commands from %s", len(file.Commands), c.path)
	return nil
}

// Lookup returns the expanded command line for a known shortcut
func (c *CommandCatalog) Lookup(input string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	template, ok := c.commands[normalizeCommand(input)]
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(template, CLIPlaceholder, c.cli), true
}

// Resolve maps input to a command line; unknown input is returned unchanged
func (c *CommandCatalog) Resolve(input string) string {
	if line, ok := c.Lookup(input); ok {
		return line
	}
	return strings.TrimSpace(input)
}

// Entry is one row of the catalog listing
type Entry struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// Entries lists the catalog sorted by name, templates expanded
func (c *CommandCatalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.commands))
	for name, template := range c.commands {
		out = append(out, Entry{Name: name, Command: strings.ReplaceAll(template, CLIPlaceholder, c.cli)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch reloads the commands file whenever it is written or created, until ctx is done
func (c *CommandCatalog) Watch(ctx context.Context) {
	if c.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(c.path)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", c.path, err)
		return
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", c.path)

	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					log.Printf("🔄 Detected changes in %s, reloading commands...", c.path)
					if err := c.Reload(); err != nil {
						log.Printf("❌ Failed to reload commands: %v", err)
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
