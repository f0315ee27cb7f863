package config

import (
	"fmt"
	"os"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envBinding maps one environment variable to a section key.
type envBinding struct {
	env     string
	section string
	key     string
	convert func(string) string
}

var envBindings = []envBinding{
	{env: "PORT", section: SectionIDServer, key: "listen_addr", convert: portToAddr},
	{env: "REDIS_URL", section: SectionIDServer, key: "redis_url"},
	{env: "LOG_LEVEL", section: SectionIDServer, key: "log_level"},
	{env: "ALLOWED_ORIGINS", section: SectionIDServer, key: "allowed_origins"},
	{env: "STORE_DRIVER", section: SectionIDStore, key: "driver"},
	{env: "DATABASE_URL", section: SectionIDStore, key: "dsn"},
	{env: "OPENAI_API_KEY", section: SectionIDAI, key: "api_key"},
	{env: "OPENAI_BASE_URL", section: SectionIDAI, key: "base_url"},
	{env: "AI_ENABLED", section: SectionIDAI, key: "enabled"},
}

func portToAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

// ApplyEnv overlays environment variables on the registered sections.
// Precedence is environment over file. DATABASE_URL without STORE_DRIVER selects postgres.
func ApplyEnv(m *Manager, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	overlay := make(map[string]map[string]any)
	for _, b := range envBindings {
		v, ok := lookup(b.env)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if b.convert != nil {
			v = b.convert(v)
		}
		if overlay[b.section] == nil {
			overlay[b.section] = make(map[string]any)
		}
		overlay[b.section][b.key] = v
	}

	if st, ok := overlay[SectionIDStore]; ok {
		if _, hasDriver := st["driver"]; !hasDriver {
			if _, hasDSN := st["dsn"]; hasDSN {
				st["driver"] = "postgres"
			}
		}
	}

	for id, data := range overlay {
		section, ok := m.GetSection(id)
		if !ok {
			continue
		}
		if err := section.SetData(data); err != nil {
			return fmt.Errorf("environment override for %s: %w", id, err)
		}
		if err := section.Validate(); err != nil {
			return fmt.Errorf("environment override for %s: %w", id, err)
		}
	}
	return nil
}
