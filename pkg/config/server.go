package config

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

const (
	// SectionIDServer is the identifier for the HTTP and real-time surface section
	SectionIDServer = "server"
	// SectionIDStore is the identifier for the persistence section
	SectionIDStore = "store"
)

const (
	defaultListenAddr      = ":3001"
	defaultSubscriberQueue = 256
	defaultRedisChannel    = "pandorabox:events"
	defaultLogLevel        = "info"
)

// ServerSection configures the HTTP API, subscriber transports and the optional Redis relay.
type ServerSection struct {
	ListenAddr      string
	AllowedOrigins  []string
	SubscriberQueue int
	RedisURL        string
	RedisChannel    string
	LogLevel        string
	mu              sync.RWMutex
}

// NewServerSection creates a server section with default settings.
func NewServerSection() *ServerSection {
	s := &ServerSection{}
	s.Reset()
	return s
}

func (s *ServerSection) ID() string          { return SectionIDServer }
func (s *ServerSection) Title() string       { return "Server" }
func (s *ServerSection) Description() string { return "HTTP listen address, CORS origins and event fan-out." }

// Data returns the current configuration data.
func (s *ServerSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"listen_addr":      s.ListenAddr,
		"allowed_origins":  slices.Clone(s.AllowedOrigins),
		"subscriber_queue": s.SubscriberQueue,
		"redis_url":        s.RedisURL,
		"redis_channel":    s.RedisChannel,
		"log_level":        s.LogLevel,
	}
}

// SetData updates the configuration from the provided data.
func (s *ServerSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := stringValue(data, "listen_addr"); ok {
		s.ListenAddr = v
	}
	if v, ok := stringSliceValue(data, "allowed_origins"); ok {
		s.AllowedOrigins = v
	}
	if n, ok, err := intValue(data, "subscriber_queue"); err != nil {
		return err
	} else if ok {
		s.SubscriberQueue = n
	}
	if v, ok := stringValue(data, "redis_url"); ok {
		s.RedisURL = v
	}
	if v, ok := stringValue(data, "redis_channel"); ok {
		s.RedisChannel = v
	}
	if v, ok := stringValue(data, "log_level"); ok {
		s.LogLevel = strings.ToLower(v)
	}
	return nil
}

// Validate validates the current configuration.
func (s *ServerSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if s.SubscriberQueue < 1 {
		return errors.New("subscriber_queue must be at least 1")
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log_level must be one of debug, info, warn, error")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ServerSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListenAddr = defaultListenAddr
	s.AllowedOrigins = []string{"http://localhost:3000"}
	s.SubscriberQueue = defaultSubscriberQueue
	s.RedisURL = ""
	s.RedisChannel = defaultRedisChannel
	s.LogLevel = defaultLogLevel
}

// Origins returns a copy of the allowed origins.
func (s *ServerSection) Origins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.AllowedOrigins)
}

// ServerSettings is a point-in-time copy of the server section.
type ServerSettings struct {
	ListenAddr      string
	AllowedOrigins  []string
	SubscriberQueue int
	RedisURL        string
	RedisChannel    string
	LogLevel        string
}

// Settings returns a copy safe to hand to other goroutines.
func (s *ServerSection) Settings() ServerSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ServerSettings{
		ListenAddr:      s.ListenAddr,
		AllowedOrigins:  slices.Clone(s.AllowedOrigins),
		SubscriberQueue: s.SubscriberQueue,
		RedisURL:        s.RedisURL,
		RedisChannel:    s.RedisChannel,
		LogLevel:        s.LogLevel,
	}
}

// StoreSection selects the persistence driver.
type StoreSection struct {
	Driver string
	DSN    string
	mu     sync.RWMutex
}

// NewStoreSection creates a store section using the in-memory driver.
func NewStoreSection() *StoreSection {
	s := &StoreSection{}
	s.Reset()
	return s
}

func (s *StoreSection) ID() string          { return SectionIDStore }
func (s *StoreSection) Title() string       { return "Store" }
func (s *StoreSection) Description() string { return "Conversation and message persistence: memory, postgres or sqlite." }

// Data returns the current configuration data.
func (s *StoreSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"driver": s.Driver,
		"dsn":    s.DSN,
	}
}

// SetData updates the configuration from the provided data.
func (s *StoreSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := stringValue(data, "driver"); ok {
		s.Driver = strings.ToLower(v)
	}
	if v, ok := stringValue(data, "dsn"); ok {
		s.DSN = v
	}
	return nil
}

// Validate validates the current configuration.
func (s *StoreSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.Driver {
	case "memory":
		return nil
	case "postgres", "sqlite":
		if s.DSN == "" {
			return errors.New("dsn is required for driver " + s.Driver)
		}
		return nil
	}
	return errors.New("driver must be one of memory, postgres, sqlite")
}

// Reset resets the section to default configuration.
func (s *StoreSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Driver = "memory"
	s.DSN = ""
}

// Settings returns the driver and DSN.
func (s *StoreSection) Settings() (driver, dsn string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Driver, s.DSN
}
