package manager

import "sync"

// ResetShared drops the process-wide manager so each test gets a fresh one.
func ResetShared() {
	if shared != nil {
		_ = shared.Close()
	}
	shared, sharedErr = nil, nil
	sharedOnce = sync.Once{}
}
