//go:build windows
// +build windows

package instance

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// AcquireLock acquires an exclusive OS-level lock guarding the quarantine
// vault and PID file this Manager owns, so a second daemon racing to
// start against the same data directory fails fast instead of both
// processes later corrupting the quarantine metadata journal or
// double-binding the control port. The lock file sits alongside the PID
// file rather than inside the vault itself, since CheckExistingInstance
// needs to read the PID file even while the lock is held by whoever owns
// it.
func (m *Manager) AcquireLock() error {
	lockPath := m.pidFilePath + ".lock"

	// Convert path to UTF-16 for Windows API
	lockPathPtr, err := syscall.UTF16PtrFromString(lockPath)
	if err != nil {
		return fmt.Errorf("failed to convert lock path: %w", err)
	}

	// Create file with exclusive access (no sharing). This prevents any
	// other process from opening the same file, which is what makes the
	// lock exclusive: Windows enforces it at the handle-table level, not
	// via advisory convention.
	handle, err := windows.CreateFile(
		lockPathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, // dwShareMode = 0 means exclusive access
		nil,
		windows.CREATE_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)

	if err != nil {
		if holder, readErr := os.ReadFile(lockPath); readErr == nil {
			return fmt.Errorf("failed to acquire instance lock, already held by pid %s: %w", holder, err)
		}
		return fmt.Errorf("failed to acquire lock (another instance may be starting): %w", err)
	}

	m.lockHandle = handle
	m.acquiredLock = true

	// Write current PID plus acquisition time, so a blocked second
	// instance's error message (above) can name the PID holding the
	// lock without a separate PID-file read racing this one.
	contents := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	var bytesWritten uint32
	if err := windows.WriteFile(handle, []byte(contents), &bytesWritten, nil); err != nil {
		// Non-fatal - lock is still acquired
		fmt.Printf("Warning: Failed to write PID to lock file: %v\n", err)
	}

	return nil
}

// ReleaseLock releases the exclusive lock acquired by AcquireLock.
func (m *Manager) ReleaseLock() error {
	if !m.acquiredLock {
		return nil
	}

	// Close the handle
	if m.lockHandle != 0 {
		err := windows.CloseHandle(m.lockHandle)
		if err != nil {
			fmt.Printf("Warning: Failed to close lock handle: %v\n", err)
		}
		m.lockHandle = 0
	}

	// Remove the lock file
	lockPath := m.pidFilePath + ".lock"
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: Failed to remove lock file: %v\n", err)
	}

	m.acquiredLock = false
	return nil
}
