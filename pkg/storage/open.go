package storage

import "fmt"

// Open builds the driver named by cfg.Driver behind the retrying
// decorator configured from cfg.
func Open(cfg Config, opts ...ResilientOption) (*Resilient, error) {
	var next Storage
	switch cfg.Driver {
	case DriverS3, "":
		s, err := NewS3(cfg)
		if err != nil {
			return nil, err
		}
		next = s
	case DriverMemory:
		next = NewMemory()
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}

	base := []ResilientOption{
		WithAttemptTimeout(cfg.Timeout),
		WithRetries(cfg.Retries),
		WithRetryBase(cfg.RetryBase),
	}
	return NewResilient(next, append(base, opts...)...), nil
}
