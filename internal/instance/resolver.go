package instance

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConflictResolver handles conflicts when a sentineld daemon is already
// running on the configured control port.
type ConflictResolver struct {
	instanceMgr *Manager
	interactive bool
}

// NewConflictResolver creates a new conflict resolver.
func NewConflictResolver(instanceMgr *Manager, interactive bool) *ConflictResolver {
	return &ConflictResolver{
		instanceMgr: instanceMgr,
		interactive: interactive,
	}
}

// Resolve handles the conflict resolution process. May exit the process
// (for the exit option). Returns error if resolution fails, nil once
// resolved.
func (r *ConflictResolver) Resolve(info *Info) error {
	if !r.interactive {
		return r.handleNonInteractive(info)
	}
	return r.handleInteractive(info)
}

func (r *ConflictResolver) handleInteractive(info *Info) error {
	r.displayConflictInfo(info)

	reader := bufio.NewReader(os.Stdin)

	for {
		choice, err := r.promptUser(reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			continue
		}

		switch choice {
		case 1:
			return r.checkHealth(info)
		case 2:
			return r.stopExisting(info, false)
		case 3:
			return r.useDifferentPort(info)
		case 4:
			return r.stopExisting(info, true)
		case 5:
			fmt.Println("\nCanceling startup.")
			os.Exit(0)
		default:
			fmt.Println("Invalid choice. Please enter 1-5.")
		}
	}
}

// handleNonInteractive handles conflict resolution for unattended starts,
// e.g. sentineld launched by the service control manager.
func (r *ConflictResolver) handleNonInteractive(info *Info) error {
	strategy := os.Getenv("SENTINELD_ON_CONFLICT")
	if strategy == "" {
		strategy = "exit"
	}

	fmt.Printf("Control port %d is in use (PID %d). Conflict strategy: %s\n", info.Port, info.PID, strategy)

	switch strategy {
	case "exit":
		fmt.Fprintf(os.Stderr, "Another sentineld daemon is running on port %d (PID %d)\n", info.Port, info.PID)
		fmt.Fprintf(os.Stderr, "Set SENTINELD_ON_CONFLICT to 'kill' or 'port' to change behavior\n")
		os.Exit(1)
		return nil
	case "kill":
		return r.stopExisting(info, true)
	case "port":
		return r.useDifferentPort(info)
	default:
		return fmt.Errorf("unknown conflict strategy: %s", strategy)
	}
}

func (r *ConflictResolver) displayConflictInfo(info *Info) {
	fmt.Println()
	fmt.Println("Another sentineld daemon is already running:")
	fmt.Println()
	fmt.Printf("  PID:         %d\n", info.PID)
	fmt.Printf("  Port:        %d\n", info.Port)
	fmt.Printf("  Started:     %s (%s ago)\n",
		info.StartTime.Format("2006-01-02 15:04:05"),
		time.Since(info.StartTime).Round(time.Second))

	status := "Not responding"
	if info.IsResponding {
		status = "Running and responding"
	}
	fmt.Printf("  Status:      %s\n", status)
	fmt.Printf("  Control API: http://127.0.0.1:%d\n", info.Port)
	fmt.Println()

	fmt.Println("What would you like to do?")
	fmt.Println()
	fmt.Println("  1. Check health and exit")
	fmt.Println("  2. Stop existing instance and start new one (graceful)")
	fmt.Println("  3. Start on a different port")
	fmt.Println("  4. Force kill existing instance")
	fmt.Println("  5. Exit")
	fmt.Println()
}

func (r *ConflictResolver) promptUser(reader *bufio.Reader) (int, error) {
	fmt.Print("Enter choice (1-5): ")
	input, err := reader.ReadString('\n')
	if err != nil {
		return 0, err
	}

	input = strings.TrimSpace(input)
	choice, err := strconv.Atoi(input)
	if err != nil {
		return 0, fmt.Errorf("invalid input")
	}

	return choice, nil
}

// checkHealth reports whether the existing daemon is responding and exits.
func (r *ConflictResolver) checkHealth(info *Info) error {
	if info.IsResponding {
		fmt.Printf("\nExisting daemon is healthy on port %d\n", info.Port)
	} else {
		fmt.Printf("\nExisting daemon on port %d is not responding to health checks\n", info.Port)
	}
	os.Exit(0)
	return nil
}

func (r *ConflictResolver) stopExisting(info *Info, force bool) error {
	if !force && info.IsResponding {
		fmt.Println("\nSending graceful shutdown request...")
		err := SendShutdownRequest(info.Port)
		if err != nil {
			fmt.Printf("Graceful shutdown failed: %v\n", err)
			fmt.Println("Attempting force kill...")
			force = true
		} else {
			fmt.Println("Waiting for graceful shutdown...")
			time.Sleep(3 * time.Second)

			running, _ := IsProcessRunning(info.PID)
			if !running {
				fmt.Println("Previous instance stopped successfully")
				r.instanceMgr.RemovePIDFile()
				return nil
			}

			fmt.Println("Process still running after graceful shutdown request")
			fmt.Println("Attempting force kill...")
			force = true
		}
	}

	if force {
		fmt.Printf("Force killing process %d...\n", info.PID)
		err := KillProcess(info.PID)
		if err != nil {
			return fmt.Errorf("failed to kill process: %w", err)
		}

		time.Sleep(1 * time.Second)
		r.instanceMgr.RemovePIDFile()

		fmt.Println("Previous instance terminated")
	}

	return nil
}

// useDifferentPort finds an available port and continues startup.
func (r *ConflictResolver) useDifferentPort(info *Info) error {
	currentPort := r.instanceMgr.GetPort()
	newPort := FindAvailablePort(currentPort + 1)

	if newPort == 0 {
		return fmt.Errorf("could not find an available port")
	}

	fmt.Printf("\nStarting on port %d instead...\n", newPort)
	r.instanceMgr.SetPort(newPort)

	return nil
}

// IsInteractive checks if we're running in an interactive terminal.
func IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
