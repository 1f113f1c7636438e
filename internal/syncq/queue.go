package syncq

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Command is a team write that could not reach the server. Replaying it with
// the same idempotency key is safe.
type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".lawfirm")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Replay sends each queued command in order. It stops at the first command
// that still cannot be delivered and keeps it and everything after it.
// Commands the server rejects are dropped and reported through onRejected.
func Replay(commands []Command, send func(Command) error, retryable func(error) bool, onRejected func(Command, error)) (sent int, remaining []Command) {
	for i, cmd := range commands {
		err := send(cmd)
		if err == nil {
			sent++
			continue
		}
		if retryable(err) {
			return sent, append([]Command(nil), commands[i:]...)
		}
		if onRejected != nil {
			onRejected(cmd, err)
		}
	}
	return sent, []Command{}
}
