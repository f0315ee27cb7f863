package browser

import (
	"errors"
	"fmt"
	"path/filepath"
)

// WhatsAppWebURL is the page the driver automates.
const WhatsAppWebURL = "https://web.whatsapp.com"

// LaunchOptions is the validated launch configuration for the browser process.
type LaunchOptions struct {
	// ExecutablePath is the Chrome/Chromium binary. Empty means playwright's bundled Chromium.
	ExecutablePath string

	// Headless runs the browser without a window
	Headless bool

	// Containerized selects the container flag set and a throwaway profile
	Containerized bool

	// UserDataDir is the persistent profile holding the WhatsApp Web session
	UserDataDir string

	// Args are extra Chromium command-line flags
	Args []string
}

// Validate checks the options once, before launch.
func (o LaunchOptions) Validate() error {
	var errs []error
	if o.UserDataDir == "" {
		errs = append(errs, errors.New("user data directory is required"))
	}
	if o.ExecutablePath != "" && !filepath.IsAbs(o.ExecutablePath) {
		errs = append(errs, fmt.Errorf("executable path must be absolute: %s", o.ExecutablePath))
	}
	if o.Containerized && o.ExecutablePath == "" {
		errs = append(errs, errors.New("no Chrome executable found in container"))
	}
	return errors.Join(errs...)
}

var baseArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--no-first-run",
	"--no-zygote",
	"--disable-gpu",
	"--disable-extensions",
	"--disable-default-apps",
	"--disable-sync",
	"--disable-translate",
	"--hide-scrollbars",
	"--metrics-recording-only",
	"--mute-audio",
	"--no-default-browser-check",
	"--no-pings",
	"--use-fake-ui-for-media-stream",
	"--autoplay-policy=no-user-gesture-required",
}

// Shared profiles conflict inside containers, so these run with a fresh one.
var containerArgs = []string{
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-web-security",
	"--disable-features=TranslateUI,BlinkGenPropertyTrees",
	"--remote-debugging-port=0",
	"--disable-session-crashed-bubble",
	"--disable-infobars",
	"--no-crash-upload",
	"--disable-crash-reporter",
	"--single-process",
	"--force-device-scale-factor=1",
	"--disable-features=VizDisplayCompositor",
}
