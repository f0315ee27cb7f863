package config

import (
	"errors"
	"sync"
	"time"
)

const (
	// SectionIDSession is the identifier for the session lifecycle section
	SectionIDSession = "session"
)

const (
	defaultStartupTimeout   = 60 * time.Second
	defaultQRTTL            = 20 * time.Second
	defaultPairingTimeout   = 30 * time.Second
	defaultInitializeWait   = 15 * time.Second
	defaultAckTimeout       = 30 * time.Second
	defaultSendQueueSize    = 64
	defaultRetryBaseDelay   = 2 * time.Second
	defaultRetryMaxDelay    = time.Minute
	defaultRetryMaxAttempts = 5
	defaultRetryJitter      = 0.2
	defaultAttemptTimeout   = 45 * time.Second
)

// SessionSection holds the timeouts and retry policy of the automated session.
type SessionSection struct {
	StartupTimeout   time.Duration
	QRTTL            time.Duration
	PairingTimeout   time.Duration
	InitializeWait   time.Duration
	AckTimeout       time.Duration
	SendQueueSize    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
	RetryJitter      float64
	AttemptTimeout   time.Duration
	mu               sync.RWMutex
}

// NewSessionSection creates a session section with default settings.
func NewSessionSection() *SessionSection {
	s := &SessionSection{}
	s.Reset()
	return s
}

func (s *SessionSection) ID() string    { return SectionIDSession }
func (s *SessionSection) Title() string { return "Session" }
func (s *SessionSection) Description() string {
	return "Browser session timeouts, QR freshness window, send acknowledgment timeout and reconnection policy."
}

// Data returns the current configuration data.
func (s *SessionSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"startup_timeout":    s.StartupTimeout.String(),
		"qr_ttl":             s.QRTTL.String(),
		"pairing_timeout":    s.PairingTimeout.String(),
		"initialize_wait":    s.InitializeWait.String(),
		"ack_timeout":        s.AckTimeout.String(),
		"send_queue_size":    s.SendQueueSize,
		"retry_base_delay":   s.RetryBaseDelay.String(),
		"retry_max_delay":    s.RetryMaxDelay.String(),
		"retry_max_attempts": s.RetryMaxAttempts,
		"retry_jitter":       s.RetryJitter,
		"attempt_timeout":    s.AttemptTimeout.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *SessionSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	durations := map[string]*time.Duration{
		"startup_timeout":  &s.StartupTimeout,
		"qr_ttl":           &s.QRTTL,
		"pairing_timeout":  &s.PairingTimeout,
		"initialize_wait":  &s.InitializeWait,
		"ack_timeout":      &s.AckTimeout,
		"retry_base_delay": &s.RetryBaseDelay,
		"retry_max_delay":  &s.RetryMaxDelay,
		"attempt_timeout":  &s.AttemptTimeout,
	}
	for key, dst := range durations {
		d, ok, err := durationValue(data, key)
		if err != nil {
			return err
		}
		if ok {
			*dst = d
		}
	}

	if n, ok, err := intValue(data, "send_queue_size"); err != nil {
		return err
	} else if ok {
		s.SendQueueSize = n
	}
	if n, ok, err := intValue(data, "retry_max_attempts"); err != nil {
		return err
	} else if ok {
		s.RetryMaxAttempts = n
	}
	if f, ok, err := floatValue(data, "retry_jitter"); err != nil {
		return err
	} else if ok {
		s.RetryJitter = f
	}
	return nil
}

// Validate validates the current configuration.
func (s *SessionSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []error
	for name, d := range map[string]time.Duration{
		"startup_timeout":  s.StartupTimeout,
		"qr_ttl":           s.QRTTL,
		"pairing_timeout":  s.PairingTimeout,
		"ack_timeout":      s.AckTimeout,
		"retry_base_delay": s.RetryBaseDelay,
		"attempt_timeout":  s.AttemptTimeout,
	} {
		if d <= 0 {
			errs = append(errs, errors.New(name+" must be positive"))
		}
	}
	if s.InitializeWait < 0 {
		errs = append(errs, errors.New("initialize_wait must not be negative"))
	}
	if s.RetryMaxDelay < s.RetryBaseDelay {
		errs = append(errs, errors.New("retry_max_delay must be >= retry_base_delay"))
	}
	if s.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retry_max_attempts must be at least 1"))
	}
	if s.RetryJitter < 0 || s.RetryJitter > 1 {
		errs = append(errs, errors.New("retry_jitter must be within [0,1]"))
	}
	if s.SendQueueSize < 1 {
		errs = append(errs, errors.New("send_queue_size must be at least 1"))
	}
	return errors.Join(errs...)
}

// Reset resets the section to default configuration.
func (s *SessionSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartupTimeout = defaultStartupTimeout
	s.QRTTL = defaultQRTTL
	s.PairingTimeout = defaultPairingTimeout
	s.InitializeWait = defaultInitializeWait
	s.AckTimeout = defaultAckTimeout
	s.SendQueueSize = defaultSendQueueSize
	s.RetryBaseDelay = defaultRetryBaseDelay
	s.RetryMaxDelay = defaultRetryMaxDelay
	s.RetryMaxAttempts = defaultRetryMaxAttempts
	s.RetryJitter = defaultRetryJitter
	s.AttemptTimeout = defaultAttemptTimeout
}

// SessionSettings is an immutable copy of the section.
type SessionSettings struct {
	StartupTimeout   time.Duration
	QRTTL            time.Duration
	PairingTimeout   time.Duration
	InitializeWait   time.Duration
	AckTimeout       time.Duration
	SendQueueSize    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
	RetryJitter      float64
	AttemptTimeout   time.Duration
}

// Settings returns a copy safe to hand to other goroutines.
func (s *SessionSection) Settings() SessionSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSettings{
		StartupTimeout:   s.StartupTimeout,
		QRTTL:            s.QRTTL,
		PairingTimeout:   s.PairingTimeout,
		InitializeWait:   s.InitializeWait,
		AckTimeout:       s.AckTimeout,
		SendQueueSize:    s.SendQueueSize,
		RetryBaseDelay:   s.RetryBaseDelay,
		RetryMaxDelay:    s.RetryMaxDelay,
		RetryMaxAttempts: s.RetryMaxAttempts,
		RetryJitter:      s.RetryJitter,
		AttemptTimeout:   s.AttemptTimeout,
	}
}
