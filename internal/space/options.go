package space

import "log/slog"

// DefaultInitialCapacity is the number of arena slots reserved up front.
const DefaultInitialCapacity = 64

// Option configures a Space.
type Option func(*Space)

// WithLogger sets the logger used for collection and abort events.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Space) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInitialCapacity reserves room for n objects in the arena.
func WithInitialCapacity(n int) Option {
	return func(s *Space) {
		if n > 0 {
			s.capacity = n
		}
	}
}
