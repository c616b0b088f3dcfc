// Package signal covers the two ways the supervisor talks to the outside
// world without a socket: OS termination signals and the ready marker file.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"
)

// NotifyContext is cancelled on SIGINT or SIGTERM
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ReadyInfo is written to the ready marker once the server answers healthy
type ReadyInfo struct {
	PID         int       `json:"pid"`
	ServerPID   int       `json:"server_pid"`
	ServerURL   string    `json:"server_url"`
	GenerateURL string    `json:"generate_url"`
	Since       time.Time `json:"since"`
}

// CreateReady writes the ready marker atomically
func CreateReady(path string, info ReadyInfo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadReady returns the marker contents
func ReadReady(path string) (*ReadyInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info ReadyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("corrupt ready marker %s: %w", path, err)
	}
	return &info, nil
}

// CheckReady checks if the ready marker exists
func CheckReady(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveReady removes the ready marker; a missing marker is not an error
func RemoveReady(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
