package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// NewWALEngine creates a new WAL engine
func NewWALEngine(walDir string, durabilityLevel DurabilityLevel) *WALEngine {
	return &WALEngine{
		walDir:          walDir,
		durabilityLevel: durabilityLevel,
		currentLSN:      1,
	}
}

// WriteEntry assigns the next LSN to entry and appends it to the log
func (w *WALEngine) WriteEntry(entry *WALEntry) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry.LSN = w.currentLSN
	entry.Checksum = 0
	entry.Checksum = w.calculateChecksum(entry)

	if err := w.ensureWALFile(); err != nil {
		return 0, fmt.Errorf("failed to ensure WAL file: %w", err)
	}

	data, err := w.serializeEntry(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize WAL entry: %w", err)
	}

	if err := w.writeToWALFile(data); err != nil {
		return 0, fmt.Errorf("failed to write to WAL file: %w", err)
	}

	if err := w.applyDurability(); err != nil {
		return 0, fmt.Errorf("failed to apply durability: %w", err)
	}

	// Only advance once the entry is on the log
	w.currentLSN++
	return len(data), nil
}

// ReadEntries reads WAL entries from a file. A torn final line (crash during
// append) ends the read without error; corruption before the tail is an error.
func (w *WALEngine) ReadEntries(filename string) ([]*WALEntry, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}
	defer file.Close()

	var entries []*WALEntry
	var pendingErr error
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if pendingErr != nil {
			return nil, pendingErr
		}

		entry, err := w.deserializeEntry(line)
		if err != nil {
			pendingErr = fmt.Errorf("failed to deserialize WAL entry: %w", err)
			continue
		}

		if !w.verifyChecksum(entry) {
			pendingErr = fmt.Errorf("checksum verification failed for LSN %d", entry.LSN)
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading WAL file: %w", err)
	}

	return entries, nil
}

// GetCurrentLSN returns the LSN the next entry will receive
func (w *WALEngine) GetCurrentLSN() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// CurrentSize returns the number of bytes written to the open WAL file
func (w *WALEngine) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.walFile == nil {
		return 0
	}
	return w.walFile.Position
}

// SetNextLSN moves the sequence forward after recovery
func (w *WALEngine) SetNextLSN(lsn int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn > w.currentLSN {
		w.currentLSN = lsn
	}
}

// Close closes the WAL engine
func (w *WALEngine) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.walFile != nil {
		err := w.walFile.File.Close()
		w.walFile = nil
		return err
	}
	return nil
}

// Private methods

func (w *WALEngine) ensureWALFile() error {
	if w.walFile != nil {
		return nil
	}

	// LSN prefix keeps lexical order equal to log order across restarts
	filename := fmt.Sprintf("wal_%020d_%d.log", w.currentLSN, time.Now().UnixNano())
	path := filepath.Join(w.walDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create WAL file: %w", err)
	}

	w.walFile = &WALFile{
		Path: path,
		File: file,
	}

	return nil
}

func (w *WALEngine) writeToWALFile(data []byte) error {
	if w.walFile == nil {
		return fmt.Errorf("WAL file not initialized")
	}

	n, err := w.walFile.File.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to WAL file: %w", err)
	}

	w.walFile.Position += int64(n)
	w.walFile.Entries++

	return nil
}

func (w *WALEngine) applyDurability() error {
	switch w.durabilityLevel {
	case DurabilityNone, DurabilityMemory, DurabilityOS:
		// The OS will handle flushing to disk when appropriate
		return nil
	case DurabilityFull:
		return w.walFile.File.Sync()
	default:
		return fmt.Errorf("unknown durability level: %d", w.durabilityLevel)
	}
}

func (w *WALEngine) serializeEntry(entry *WALEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal WAL entry: %w", err)
	}

	// Add newline for line-based reading
	return append(data, '\n'), nil
}

func (w *WALEngine) deserializeEntry(data []byte) (*WALEntry, error) {
	var entry WALEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal WAL entry: %w", err)
	}
	return &entry, nil
}

func (w *WALEngine) calculateChecksum(entry *WALEntry) uint32 {
	entryCopy := *entry
	entryCopy.Checksum = 0

	data, err := json.Marshal(entryCopy)
	if err != nil {
		return 0
	}

	return crc32.ChecksumIEEE(data)
}

// verifyChecksum re-encodes the decoded entry, so numeric values must survive
// a JSON round trip unchanged (they do: everything decodes as float64 both times).
func (w *WALEngine) verifyChecksum(entry *WALEntry) bool {
	return entry.Checksum == w.calculateChecksum(entry)
}

// GetWALFiles returns the WAL files in log order
func (w *WALEngine) GetWALFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(w.walDir, "wal_*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// RotateWALFile closes the current WAL file; the next write opens a new one.
// It returns the path of the file that was closed, or "" if none was open.
func (w *WALEngine) RotateWALFile() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.walFile == nil {
		return "", nil
	}
	closed := w.walFile.Path
	if err := w.walFile.File.Close(); err != nil {
		return "", fmt.Errorf("failed to close current WAL file: %w", err)
	}
	w.walFile = nil
	return closed, nil
}
