package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/memehubx/memedb/pkg/domain"
)

const latestPointerFile = "LATEST"

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(engine *StorageEngine) *CheckpointManager {
	return &CheckpointManager{
		engine:     engine,
		interval:   engine.checkpointInterval,
		maxWALSize: engine.maxWALSize,
		retention:  engine.checkpointRetention,
		trigger:    make(chan struct{}, 1),
	}
}

// Run starts the checkpoint manager background worker
func (cm *CheckpointManager) Run() {
	defer cm.engine.backgroundWg.Done()

	// A zero interval leaves only WAL-size triggered checkpoints
	var tick <-chan time.Time
	if cm.interval > 0 {
		ticker := time.NewTicker(cm.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			cm.runLogged("periodic")
		case <-cm.trigger:
			cm.runLogged("wal size")
		case <-cm.engine.stopChan:
			return
		}
	}
}

// Trigger requests a checkpoint from the background worker without blocking
func (cm *CheckpointManager) Trigger() {
	select {
	case cm.trigger <- struct{}{}:
	default:
	}
}

func (cm *CheckpointManager) runLogged(reason string) {
	if err := cm.Checkpoint(); err != nil {
		cm.engine.logger.Error().Err(err).Str("reason", reason).Msg("checkpoint failed")
	}
}

// CheckpointData represents the data written during a checkpoint
type CheckpointData struct {
	LSN         int64                `json:"lsn"`
	CreatedAt   time.Time            `json:"created_at"`
	Collections []collectionSnapshot `json:"collections"`
	Locks       []domain.Lock        `json:"locks"`
}

// collectionSnapshot is one collection inside a checkpoint
type collectionSnapshot struct {
	Name         string            `json:"name"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
	Indexes      []string          `json:"indexes"`
	Documents    []domain.Document `json:"documents"`
}

// Checkpoint writes a full snapshot of every collection, then removes the
// WAL files it covers. Nothing is written when no entries were logged since
// the previous checkpoint.
func (cm *CheckpointManager) Checkpoint() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	start := time.Now()
	se := cm.engine

	// Snapshot and rotate under the write lock so the snapshot is exactly
	// the state after entry lsn.
	se.writeMu.Lock()
	if se.closed {
		se.writeMu.Unlock()
		return nil
	}
	lsn := se.walEngine.GetCurrentLSN() - 1
	if cm.hasCheckpoint && lsn == cm.lastCheckpointLSN {
		se.writeMu.Unlock()
		return nil
	}
	colls, locks := se.memoryMgr.Snapshot()
	if _, err := se.walEngine.RotateWALFile(); err != nil {
		se.writeMu.Unlock()
		return fmt.Errorf("failed to rotate WAL file: %w", err)
	}
	covered, err := se.walEngine.GetWALFiles()
	se.writeMu.Unlock()
	if err != nil {
		return err
	}

	data := &CheckpointData{
		LSN:         lsn,
		CreatedAt:   se.now(),
		Collections: colls,
		Locks:       locks,
	}
	if err := cm.writeCheckpoint(data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	cm.lastCheckpoint = data.CreatedAt
	cm.lastCheckpointLSN = lsn
	cm.hasCheckpoint = true

	for _, file := range covered {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			se.logger.Warn().Err(err).Str("file", file).Msg("failed to remove WAL file")
		}
	}
	if err := cm.cleanupOldCheckpointFiles(); err != nil {
		se.logger.Warn().Err(err).Msg("failed to clean up old checkpoints")
	}

	se.updateStats(func(s *StorageStats) {
		s.CheckpointsPerformed++
		s.LastCheckpoint = data.CreatedAt
	})
	se.logger.Info().
		Int64("lsn", lsn).
		Int("collections", len(colls)).
		Dur("took", time.Since(start)).
		Msg("checkpoint completed")

	return nil
}

// LoadCheckpoint loads the newest checkpoint, or nil when there is none
func (cm *CheckpointManager) LoadCheckpoint() (*CheckpointData, error) {
	path, err := cm.latestCheckpointPath()
	if err != nil || path == "" {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var data CheckpointData
	if err := DecodeFile(file, &data); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", filepath.Base(path), err)
	}

	cm.mu.Lock()
	cm.lastCheckpoint = data.CreatedAt
	cm.lastCheckpointLSN = data.LSN
	cm.hasCheckpoint = true
	cm.mu.Unlock()

	return &data, nil
}

// Private methods

func (cm *CheckpointManager) writeCheckpoint(data *CheckpointData) error {
	dir := cm.engine.checkpointDir
	name := fmt.Sprintf("checkpoint_%020d%s", data.LSN, FileExtension)

	if err := WriteFileAtomic(filepath.Join(dir, name), func(f *os.File) error {
		return EncodeFile(f, data)
	}); err != nil {
		return err
	}

	return WriteFileAtomic(filepath.Join(dir, latestPointerFile), func(f *os.File) error {
		_, err := f.WriteString(name + "\n")
		return err
	})
}

// latestCheckpointPath follows the LATEST pointer, falling back to the
// highest-numbered checkpoint file when the pointer is missing
func (cm *CheckpointManager) latestCheckpointPath() (string, error) {
	dir := cm.engine.checkpointDir

	pointer, err := os.ReadFile(filepath.Join(dir, latestPointerFile))
	if err == nil {
		name := strings.TrimSpace(string(pointer))
		path := filepath.Join(dir, name)
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
		cm.engine.logger.Warn().Str("checkpoint", name).Msg("LATEST points at a missing checkpoint, scanning directory")
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read checkpoint pointer: %w", err)
	}

	files, err := cm.checkpointFiles()
	if err != nil || len(files) == 0 {
		return "", err
	}
	return files[len(files)-1], nil
}

func (cm *CheckpointManager) checkpointFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(cm.engine.checkpointDir, "checkpoint_*"+FileExtension))
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (cm *CheckpointManager) cleanupOldCheckpointFiles() error {
	if cm.retention <= 0 {
		return nil
	}
	files, err := cm.checkpointFiles()
	if err != nil {
		return err
	}
	for len(files) > cm.retention {
		if err := os.Remove(files[0]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove checkpoint %s: %w", files[0], err)
		}
		files = files[1:]
	}
	return nil
}

// WriteFileAtomic writes through a temp file in the same directory and renames it into place
func WriteFileAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}
