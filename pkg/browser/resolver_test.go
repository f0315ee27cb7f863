package browser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(t *testing.T, env map[string]string, goos string, installed ...string) (*Resolver, string) {
	t.Helper()
	wd := t.TempDir()
	r := NewResolver(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}, nil)
	r.goos = goos
	r.exists = func(path string) bool {
		for _, p := range installed {
			if p == path {
				return true
			}
		}
		return false
	}
	r.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	r.homeDir = func() (string, error) { return "/home/dealer", nil }
	r.workDir = func() (string, error) { return wd, nil }
	r.tempDir = func() string { return wd }
	return r, wd
}

func TestResolveDefaults(t *testing.T) {
	r, wd := testResolver(t, nil, "linux", "/usr/bin/chromium")

	opts, err := r.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/chromium", opts.ExecutablePath)
	assert.False(t, opts.Headless)
	assert.False(t, opts.Containerized)
	assert.Equal(t, filepath.Join(wd, SessionDirName), opts.UserDataDir)
	assert.Equal(t, baseArgs, opts.Args)
	assert.DirExists(t, opts.UserDataDir)
}

func TestResolveExecutableOrder(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		r, _ := testResolver(t, map[string]string{EnvChromePath: "/opt/chrome/chrome"}, "linux",
			"/opt/chrome/chrome", "/usr/bin/google-chrome")
		opts, err := r.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "/opt/chrome/chrome", opts.ExecutablePath)
	})

	t.Run("missing override falls back to known paths", func(t *testing.T) {
		r, _ := testResolver(t, map[string]string{EnvChromePath: "/nope"}, "linux", "/usr/bin/google-chrome")
		opts, err := r.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/google-chrome", opts.ExecutablePath)
	})

	t.Run("PATH lookup", func(t *testing.T) {
		r, _ := testResolver(t, nil, "linux")
		r.lookPath = func(name string) (string, error) {
			if name == "chromium" {
				return "/usr/local/bin/chromium", nil
			}
			return "", errors.New("not found")
		}
		opts, err := r.Resolve()
		require.NoError(t, err)
		assert.Equal(t, "/usr/local/bin/chromium", opts.ExecutablePath)
	})

	t.Run("nothing found uses bundled chromium", func(t *testing.T) {
		r, _ := testResolver(t, nil, "linux")
		opts, err := r.Resolve()
		require.NoError(t, err)
		assert.Empty(t, opts.ExecutablePath)
	})
}

func TestResolveHeadless(t *testing.T) {
	for _, env := range []map[string]string{
		{EnvHeadless: "true"},
		{EnvAppEnv: "production"},
	} {
		r, _ := testResolver(t, env, "linux")
		opts, err := r.Resolve()
		require.NoError(t, err)
		assert.True(t, opts.Headless, "env %v", env)
	}
}

func TestResolveContainerized(t *testing.T) {
	r, wd := testResolver(t, map[string]string{EnvDocker: "true"}, "linux", "/usr/bin/google-chrome")

	opts, err := r.Resolve()
	require.NoError(t, err)

	assert.True(t, opts.Containerized)
	assert.Contains(t, opts.Args, "--single-process")
	assert.Contains(t, opts.Args, "--no-sandbox")
	assert.True(t, strings.HasPrefix(filepath.Base(opts.UserDataDir), "chrome-"))
	assert.Equal(t, wd, filepath.Dir(opts.UserDataDir))

	second, err := r.Resolve()
	require.NoError(t, err)
	assert.NotEqual(t, opts.UserDataDir, second.UserDataDir, "each launch gets a fresh profile")
}

func TestResolveContainerizedWithoutChrome(t *testing.T) {
	r, _ := testResolver(t, map[string]string{EnvDocker: "true"}, "linux")

	_, err := r.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Chrome executable")
}

func TestResolveUserDataDirOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	r, _ := testResolver(t, map[string]string{EnvUserDataDir: dir, EnvDocker: "true"}, "linux", "/usr/bin/chromium")

	opts, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, dir, opts.UserDataDir)
}

func TestResolveWindowsProfile(t *testing.T) {
	local := t.TempDir()
	r, _ := testResolver(t, map[string]string{"LOCALAPPDATA": local}, "windows")

	opts, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(local, "WhatsAppAutomation", "UserData"), opts.UserDataDir)
}

func TestResolveMkdirFailure(t *testing.T) {
	r, _ := testResolver(t, nil, "linux")
	r.mkdirAll = func(string, os.FileMode) error { return errors.New("read-only file system") }

	_, err := r.Resolve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only file system")
}

func TestLaunchOptionsValidate(t *testing.T) {
	assert.NoError(t, LaunchOptions{UserDataDir: "/tmp/p"}.Validate())
	assert.Error(t, LaunchOptions{}.Validate())
	assert.Error(t, LaunchOptions{UserDataDir: "/tmp/p", ExecutablePath: "chrome"}.Validate())
	assert.Error(t, LaunchOptions{UserDataDir: "/tmp/p", Containerized: true}.Validate())
}
