package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samikhalifabe/Pandorabox/pkg/logging"
)

// Environment variables read by the resolver.
const (
	EnvChromePath  = "CHROME_PATH"
	EnvHeadless    = "BROWSER_HEADLESS"
	EnvAppEnv      = "APP_ENV"
	EnvDocker      = "DOCKER_ENV"
	EnvUserDataDir = "WHATSAPP_USER_DATA_DIR"
)

// SessionDirName is the profile directory created under the working directory.
const SessionDirName = "session-whatsapp-api"

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Resolver turns the host environment into LaunchOptions. It is read once per launch.
type Resolver struct {
	lookup   LookupFunc
	goos     string
	exists   func(path string) bool
	lookPath func(file string) (string, error)
	homeDir  func() (string, error)
	workDir  func() (string, error)
	tempDir  func() string
	mkdirAll func(path string, perm os.FileMode) error
	log      *logging.Logger
}

// NewResolver creates a resolver over lookup. A nil lookup reads the process environment.
func NewResolver(lookup LookupFunc, log *logging.Logger) *Resolver {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Resolver{
		lookup:   lookup,
		goos:     runtime.GOOS,
		exists:   fileExists,
		lookPath: exec.LookPath,
		homeDir:  os.UserHomeDir,
		workDir:  os.Getwd,
		tempDir:  os.TempDir,
		mkdirAll: os.MkdirAll,
		log:      log,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (r *Resolver) env(key string) string {
	v, _ := r.lookup(key)
	return strings.TrimSpace(v)
}

func (r *Resolver) flag(key string) bool {
	b, err := strconv.ParseBool(r.env(key))
	return err == nil && b
}

// Resolve builds and validates the launch options.
func (r *Resolver) Resolve() (LaunchOptions, error) {
	opts := LaunchOptions{
		Containerized: r.flag(EnvDocker),
		Headless:      r.flag(EnvHeadless) || r.env(EnvAppEnv) == "production",
		Args:          slices.Clone(baseArgs),
	}
	if opts.Containerized {
		opts.Args = append(opts.Args, containerArgs...)
	}

	opts.ExecutablePath = r.findExecutable()
	if opts.ExecutablePath == "" && !opts.Containerized {
		r.log.Warnf("Chrome executable not found, falling back to the bundled Chromium")
	}

	dir, err := r.userDataDir(opts.Containerized)
	if err != nil {
		return LaunchOptions{}, err
	}
	if err := r.mkdirAll(dir, 0o750); err != nil {
		return LaunchOptions{}, fmt.Errorf("failed to create user data directory %s: %w", dir, err)
	}
	opts.UserDataDir = dir

	if err := opts.Validate(); err != nil {
		return LaunchOptions{}, fmt.Errorf("invalid launch options: %w", err)
	}
	r.log.Infof("launch options resolved: executable=%q headless=%t containerized=%t profile=%s",
		opts.ExecutablePath, opts.Headless, opts.Containerized, opts.UserDataDir)
	return opts, nil
}

func (r *Resolver) userDataDir(containerized bool) (string, error) {
	if dir := r.env(EnvUserDataDir); dir != "" {
		return dir, nil
	}
	if containerized {
		name := fmt.Sprintf("chrome-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
		return filepath.Join(r.tempDir(), name), nil
	}
	if r.goos == "windows" {
		base := r.env("LOCALAPPDATA")
		if base == "" {
			home, err := r.homeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, "WhatsAppAutomation", "UserData"), nil
	}
	wd, err := r.workDir()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(wd, SessionDirName), nil
}

// findExecutable checks the override, then known install paths, then PATH.
func (r *Resolver) findExecutable() string {
	if p := r.env(EnvChromePath); p != "" {
		if r.exists(p) {
			return p
		}
		r.log.Warnf("%s=%s does not exist, searching known locations", EnvChromePath, p)
	}

	for _, p := range r.knownPaths() {
		if r.exists(p) {
			return p
		}
	}

	for _, name := range []string{"google-chrome", "chromium-browser", "chromium"} {
		if p, err := r.lookPath(name); err == nil && filepath.IsAbs(p) {
			return p
		}
	}
	return ""
}

func (r *Resolver) knownPaths() []string {
	switch r.goos {
	case "windows":
		paths := []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
		for _, key := range []string{"LOCALAPPDATA", "PROGRAMFILES", "ProgramFiles(x86)"} {
			if base := r.env(key); base != "" {
				paths = append(paths, filepath.Join(base, "Google", "Chrome", "Application", "chrome.exe"))
			}
		}
		return paths
	case "darwin":
		paths := []string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}
		if home, err := r.homeDir(); err == nil {
			paths = append(paths, filepath.Join(home, "Applications", "Google Chrome.app", "Contents", "MacOS", "Google Chrome"))
		}
		return paths
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
		}
	}
}
