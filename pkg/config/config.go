package config

import (
	"sync"
)

var (
	// globalManager is the process-wide configuration manager
	globalManager *Manager
	globalLookup  LookupFunc
	globalMu      sync.Mutex
)

// NewDefaultManager creates a manager over store with every Pandorabox section registered.
func NewDefaultManager(store Store) (*Manager, error) {
	manager := NewManager(store)
	for _, section := range []Section{
		NewSessionSection(),
		NewAISection(),
		NewServerSection(),
		NewStoreSection(),
	} {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// Initialize loads the YAML file at configPath (default ~/.pandorabox/config.yaml),
// overlays the environment and installs the result as the global manager.
func Initialize(configPath string, lookup LookupFunc) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager, err := NewDefaultManager(store)
	if err != nil {
		return err
	}
	if err := manager.LoadAll(); err != nil {
		return err
	}
	if err := ApplyEnv(manager, lookup); err != nil {
		return err
	}

	globalManager = manager
	globalLookup = lookup
	return nil
}

// Refresh reloads the file and re-applies the environment overlay.
// Sections keep their identity, so holders of section pointers observe the new values.
func Refresh() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		return nil
	}
	if err := globalManager.Reload(); err != nil {
		return err
	}
	return ApplyEnv(globalManager, globalLookup)
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}
	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

func globalSection[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	section, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := section.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetSession returns the session section, or nil if config is not initialized.
func GetSession() *SessionSection { return globalSection[*SessionSection](SectionIDSession) }

// GetAI returns the AI section, or nil if config is not initialized.
func GetAI() *AISection { return globalSection[*AISection](SectionIDAI) }

// GetServer returns the server section, or nil if config is not initialized.
func GetServer() *ServerSection { return globalSection[*ServerSection](SectionIDServer) }

// GetStore returns the store section, or nil if config is not initialized.
func GetStore() *StoreSection { return globalSection[*StoreSection](SectionIDStore) }
