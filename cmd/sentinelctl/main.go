package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	port := flag.Int("port", 8765, "sentineld control port")
	action := flag.String("action", "", "Action to perform: scan, stop-scan, scan-progress, enable-realtime, disable-realtime, list-quarantine, restore-quarantine, delete-quarantine, list-pending, resolve-threat, health, shutdown")
	jobID := flag.String("job", "", "Scan job ID (stop-scan, scan-progress)")
	paths := flag.String("paths", "", "Comma-separated paths to scan (scan)")
	scanType := flag.String("scan-type", "custom", "Scan type: custom, quick, full (scan)")
	quarantineID := flag.String("id", "", "Quarantine entry ID (restore-quarantine, delete-quarantine)")
	restorePath := flag.String("restore-path", "", "Destination path override (restore-quarantine)")
	eventID := flag.String("event", "", "Pending threat event ID (resolve-threat)")
	resolveAction := flag.String("resolve-action", "", "Action to apply: Quarantine, Delete, Allow (resolve-threat)")
	addToExclusions := flag.Bool("exclude", false, "Add to exclusions when resolving (resolve-threat)")
	jsonOutput := flag.Bool("json", false, "Output raw JSON")
	flag.Parse()

	if *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: sentinelctl -action <action> [flags]\n")
		fmt.Fprintf(os.Stderr, "Actions: scan, stop-scan, scan-progress, enable-realtime, disable-realtime, list-quarantine, restore-quarantine, delete-quarantine, list-pending, resolve-threat, health, shutdown\n")
		os.Exit(1)
	}

	c := &client{base: fmt.Sprintf("http://127.0.0.1:%d", *port), json: *jsonOutput}

	var err error
	switch *action {
	case "scan":
		if *paths == "" {
			err = fmt.Errorf("-paths is required for scan")
			break
		}
		err = c.scanPath(strings.Split(*paths, ","), *scanType)

	case "stop-scan":
		if *jobID == "" {
			err = fmt.Errorf("-job is required for stop-scan")
			break
		}
		err = c.post(fmt.Sprintf("/api/scan/%s/stop", *jobID), nil, "Scan stopped")

	case "scan-progress":
		if *jobID == "" {
			err = fmt.Errorf("-job is required for scan-progress")
			break
		}
		err = c.get(fmt.Sprintf("/api/scan/%s/progress", *jobID))

	case "enable-realtime":
		err = c.post("/api/realtime/enable", nil, "Real-time protection enabled")

	case "disable-realtime":
		err = c.post("/api/realtime/disable", nil, "Real-time protection disabled")

	case "list-quarantine":
		err = c.get("/api/quarantine")

	case "restore-quarantine":
		if *quarantineID == "" {
			err = fmt.Errorf("-id is required for restore-quarantine")
			break
		}
		body, _ := json.Marshal(map[string]string{"restore_path": *restorePath})
		err = c.post(fmt.Sprintf("/api/quarantine/%s/restore", *quarantineID), body, "Restored")

	case "delete-quarantine":
		if *quarantineID == "" {
			err = fmt.Errorf("-id is required for delete-quarantine")
			break
		}
		err = c.delete(fmt.Sprintf("/api/quarantine/%s", *quarantineID))

	case "list-pending":
		err = c.get("/api/threats/pending")

	case "resolve-threat":
		if *eventID == "" || *resolveAction == "" {
			err = fmt.Errorf("-event and -resolve-action are required for resolve-threat")
			break
		}
		body, _ := json.Marshal(map[string]interface{}{
			"action":            *resolveAction,
			"add_to_exclusions": *addToExclusions,
		})
		err = c.post(fmt.Sprintf("/api/threats/%s/resolve", *eventID), body, "Threat resolved")

	case "health":
		err = c.get("/api/health")

	case "shutdown":
		err = c.post("/api/shutdown", nil, "Shutdown requested")

	default:
		err = fmt.Errorf("unknown action: %s", *action)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// client is a thin HTTP wrapper around sentineld's control surface.
type client struct {
	base string
	json bool
	http http.Client
}

func (c *client) scanPath(paths []string, scanType string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"paths":     paths,
		"scan_type": scanType,
	})
	return c.post("/api/scan", body, "Scan started")
}

func (c *client) get(path string) error {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.render(resp)
}

func (c *client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return c.render(resp)
}

func (c *client) post(path string, body []byte, okMessage string) error {
	resp, err := c.do(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if c.json {
		return c.render(resp)
	}

	var out map[string]interface{}
	_ = json.Unmarshal(resp, &out)
	if errMsg, ok := out["error"]; ok {
		return fmt.Errorf("%v", errMsg)
	}
	fmt.Println(okMessage)
	return nil
}

func (c *client) do(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.http.Timeout = 30 * time.Second
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to sentineld on %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var out map[string]interface{}
		if err := json.Unmarshal(data, &out); err == nil {
			if msg, ok := out["error"]; ok {
				return nil, fmt.Errorf("%v (HTTP %d)", msg, resp.StatusCode)
			}
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *client) render(data []byte) error {
	if c.json {
		fmt.Println(string(data))
		return nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
