package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/mirrorx/endpoint/internal/logging"
)

var log = logging.L("config")

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks a fileConfig for invalid values, clamping dangerous
// zero-values to safe defaults in place and returning every problem found
// so the caller can decide what to log. Nothing here is fatal: an endpoint
// with no domains yet (first run) is a valid, empty config.
func Validate(cfg *fileConfig) []error {
	var errs []error

	for name, dc := range cfg.Domains {
		if dc.URI == "" {
			continue
		}
		u, err := url.Parse(dc.URI)
		if err != nil {
			errs = append(errs, fmt.Errorf("domain %q: uri %q is not a valid URL: %w", name, dc.URI, err))
			continue
		}
		if u.Host == "" {
			errs = append(errs, fmt.Errorf("domain %q: uri %q has no host", name, dc.URI))
		}

		for _, r := range dc.Password {
			if unicode.IsControl(r) {
				errs = append(errs, fmt.Errorf("domain %q: password contains control characters", name))
				break
			}
		}
	}

	if cfg.PrimaryDomain != "" {
		if _, ok := cfg.Domains[cfg.PrimaryDomain]; !ok {
			errs = append(errs, fmt.Errorf("primary_domain %q has no matching domain entry", cfg.PrimaryDomain))
		}
	}

	if cfg.LogLevel != "" && !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	if cfg.LogFormat != "" && cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", cfg.LogFormat))
		cfg.LogFormat = "text"
	}

	if cfg.WorkerPoolSize < 1 {
		errs = append(errs, fmt.Errorf("worker_pool_size %d is below minimum 1, clamping", cfg.WorkerPoolSize))
		cfg.WorkerPoolSize = 1
	} else if cfg.WorkerPoolSize > 64 {
		errs = append(errs, fmt.Errorf("worker_pool_size %d exceeds maximum 64, clamping", cfg.WorkerPoolSize))
		cfg.WorkerPoolSize = 64
	}

	if cfg.WorkerQueueSize < 1 {
		errs = append(errs, fmt.Errorf("worker_queue_size %d is below minimum 1, clamping", cfg.WorkerQueueSize))
		cfg.WorkerQueueSize = 1
	} else if cfg.WorkerQueueSize > 10000 {
		errs = append(errs, fmt.Errorf("worker_queue_size %d exceeds maximum 10000, clamping", cfg.WorkerQueueSize))
		cfg.WorkerQueueSize = 10000
	}

	if cfg.MaxConcurrentSessions < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_sessions %d is below minimum 1, clamping", cfg.MaxConcurrentSessions))
		cfg.MaxConcurrentSessions = 1
	} else if cfg.MaxConcurrentSessions > 256 {
		errs = append(errs, fmt.Errorf("max_concurrent_sessions %d exceeds maximum 256, clamping", cfg.MaxConcurrentSessions))
		cfg.MaxConcurrentSessions = 256
	}

	return errs
}
