package utils

// Guard runs cleanup for resources acquired by a function that later fails. Cleanups run in
// reverse order of registration, and only when Success was never called:
//
//	guard := NewGuard(func() { solver.Close() })
//	defer guard.OnFail()
//	guard.Add(func() { collider.Close() })
//	if err != nil { return err }
//	guard.Success()
type Guard struct {
	cleanups []func()
	success  bool
}

// NewGuard returns a Guard with an optional first cleanup.
func NewGuard(onFailCleanup func()) *Guard {
	ret := &Guard{}
	if onFailCleanup != nil {
		ret.cleanups = append(ret.cleanups, onFailCleanup)
	}
	return ret
}

// Add registers another cleanup.
func (guard *Guard) Add(onFailCleanup func()) {
	guard.cleanups = append(guard.cleanups, onFailCleanup)
}

// OnFail runs the registered cleanups unless the guarded function succeeded.
func (guard *Guard) OnFail() {
	if guard.success {
		return
	}
	for i := len(guard.cleanups) - 1; i >= 0; i-- {
		guard.cleanups[i]()
	}
	guard.cleanups = nil
}

// Success declares the function succeeded and the "failure" cleanup code does not need to be
// executed.
func (guard *Guard) Success() {
	guard.success = true
}
