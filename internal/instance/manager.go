// Package instance guards against more than one sentineld daemon running
// on a machine at once. Two daemons racing to move files into the same
// quarantine root, or both binding the control port, would corrupt the
// quarantine metadata journal and confuse any control client.
package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// daemonExecutableName is the expected image name of a legitimate
// sentineld process. It backs two checks: PID-reuse detection in
// CheckExistingInstance (a stale PID file pointing at a PID the OS has
// since recycled for an unrelated process) and IsProcessRunning's own
// identity check in windows.go.
const daemonExecutableName = "sentineld.exe"

// Manager handles lifecycle management for sentineld daemon instances.
type Manager struct {
	pidFilePath  string
	statePath    string
	port         int
	lockHandle   windows.Handle
	acquiredLock bool
}

// Info describes a running instance discovered via its PID file.
type Info struct {
	PID          int
	Port         int
	StartTime    time.Time
	IsRunning    bool
	IsResponding bool
	Version      string
	BasePath     string
}

// PIDFileData is the JSON structure of the PID file.
type PIDFileData struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
	BasePath  string    `json:"base_path"`
	Hostname  string    `json:"hostname"`
}

// NewManager creates a new instance manager.
func NewManager(pidFilePath, statePath string, port int) *Manager {
	return &Manager{
		pidFilePath:  pidFilePath,
		statePath:    statePath,
		port:         port,
		acquiredLock: false,
	}
}

// CheckExistingInstance checks if a sentineld daemon is already running.
func (m *Manager) CheckExistingInstance() (*Info, error) {
	pidData, err := m.ReadPIDFile()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read PID file: %w", err)
	}

	running, err := IsProcessRunning(pidData.PID)
	if err != nil {
		return nil, fmt.Errorf("failed to check process: %w", err)
	}

	if !running {
		fmt.Printf("Detected stale PID file (process %d not running)\n", pidData.PID)
		m.RemovePIDFile()
		return nil, nil
	}

	// Verify process name matches daemonExecutableName.
	name, err := GetProcessName(pidData.PID)
	if err != nil {
		fmt.Printf("Warning: Failed to get process name for PID %d: %v\n", pidData.PID, err)
	} else if name != daemonExecutableName {
		fmt.Printf("Detected PID reuse (process %d is %s, not %s)\n", pidData.PID, name, daemonExecutableName)
		m.RemovePIDFile()
		return nil, nil
	}

	responding := HealthCheck(pidData.Port) == nil

	return &Info{
		PID:          pidData.PID,
		Port:         pidData.Port,
		StartTime:    pidData.StartedAt,
		IsRunning:    true,
		IsResponding: responding,
		Version:      pidData.Version,
		BasePath:     pidData.BasePath,
	}, nil
}

// WritePIDFile creates a PID file with instance information.
func (m *Manager) WritePIDFile(pid, port int, basePath string) error {
	hostname, _ := os.Hostname()

	data := PIDFileData{
		PID:       pid,
		Port:      port,
		StartedAt: time.Now(),
		Version:   "1.0.0",
		BasePath:  basePath,
		Hostname:  hostname,
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal PID data: %w", err)
	}

	if err := os.WriteFile(m.pidFilePath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// ReadPIDFile reads and parses the PID file.
func (m *Manager) ReadPIDFile() (*PIDFileData, error) {
	jsonData, err := os.ReadFile(m.pidFilePath)
	if err != nil {
		return nil, err
	}

	var data PIDFileData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("failed to parse PID file: %w", err)
	}

	return &data, nil
}

// RemovePIDFile deletes the PID file.
func (m *Manager) RemovePIDFile() error {
	if err := os.Remove(m.pidFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetPort returns the port the instance manager is configured for.
func (m *Manager) GetPort() int {
	return m.port
}

// SetPort updates the port (used when the resolver chooses a different port).
func (m *Manager) SetPort(port int) {
	m.port = port
}
