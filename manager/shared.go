package manager

import (
	"sync"

	"github.com/feltsight/glovelink/internal/config"
)

var (
	sharedOnce sync.Once
	shared     *Manager
	sharedErr  error
)

// Shared returns the process-wide manager built from the default configuration.
// Every call returns the same instance; a failed creation is not retried.
func Shared() (*Manager, error) {
	sharedOnce.Do(func() {
		cfg := config.DefaultConfig()
		shared, sharedErr = New(OptionsFromConfig(cfg), cfg.NewLogger())
	})
	return shared, sharedErr
}
