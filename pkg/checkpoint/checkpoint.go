package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"apiflow/pkg/logger"
)

// Version is the checkpoint file format version.
const Version = 1

// Checkpoint records which waits of a batch have already succeeded. It
// holds no attempt or delay state; a wait that did not finish starts over.
type Checkpoint struct {
	Name      string               `json:"name"`
	Waiter    string               `json:"waiter"`
	Service   string               `json:"service"`
	Completed map[string]time.Time `json:"completed"` // params key -> success time
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	Version   int                  `json:"version"`
}

// IsDone reports whether the wait for key already succeeded.
func (c *Checkpoint) IsDone(key string) bool {
	_, ok := c.Completed[key]
	return ok
}

// Manager handles checkpoint operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a manager for the named checkpoint in the user data
// directory.
func NewManager(name string) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	return NewManagerAt(filepath.Join(dataDir, "checkpoints"), name)
}

// NewManagerAt creates a manager for the named checkpoint in dir.
func NewManagerAt(dir, name string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &Manager{
		checkpointPath: filepath.Join(dir, name+".checkpoint.json"),
		logger:         logger.GetLogger().WithField("checkpoint", name),
	}, nil
}

// Path returns the checkpoint file location.
func (m *Manager) Path() string { return m.checkpointPath }

// Create creates and saves an empty checkpoint
func (m *Manager) Create(name, waiter, service string) (*Checkpoint, error) {
	now := time.Now()
	cp := &Checkpoint{
		Name:      name,
		Waiter:    waiter,
		Service:   service,
		Completed: make(map[string]time.Time),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   Version,
	}
	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"waiter": waiter,
		"path":   m.checkpointPath,
	})
	return cp, nil
}

// Load loads an existing checkpoint. It returns nil, nil when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version != Version {
		return nil, fmt.Errorf("unsupported checkpoint version %d", cp.Version)
	}
	if cp.Completed == nil {
		cp.Completed = make(map[string]time.Time)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"waiter":     cp.Waiter,
		"completed":  len(cp.Completed),
		"updated_at": cp.UpdatedAt,
	})
	return &cp, nil
}

// Save saves the checkpoint to disk atomically
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"completed": len(cp.Completed),
	})
	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// RecordSuccess marks the wait for key as done and saves the checkpoint.
func (m *Manager) RecordSuccess(cp *Checkpoint, keys ...string) error {
	now := time.Now()
	for _, key := range keys {
		cp.Completed[key] = now
	}
	return m.Save(cp)
}

// ParamsKey identifies a parameter set. Equal documents give equal keys
// regardless of map ordering.
func ParamsKey(params map[string]any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "apiflow")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "apiflow")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "apiflow")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "apiflow")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
