// Package browser launches and drives the WhatsApp Web client.
//
// Resolver turns the host environment (CHROME_PATH, BROWSER_HEADLESS, DOCKER_ENV,
// WHATSAPP_USER_DATA_DIR) into LaunchOptions once per launch. Driver runs Chromium
// through playwright-go with a persistent profile, watches the page for pairing codes
// and login changes, and reports everything as typed backend events.
package browser
