package storage

import (
	"fmt"
	"time"
)

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager(engine *StorageEngine) *RecoveryManager {
	return &RecoveryManager{
		engine: engine,
	}
}

// Recover restores the newest checkpoint and replays the WAL entries logged after it
func (rm *RecoveryManager) Recover() error {
	start := time.Now()
	se := rm.engine

	checkpoint, err := se.checkpointMgr.LoadCheckpoint()
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	checkpointLSN := int64(0)
	if checkpoint != nil {
		rm.restoreFromCheckpoint(checkpoint)
		checkpointLSN = checkpoint.LSN
		se.logger.Info().Int64("lsn", checkpoint.LSN).Int("collections", len(checkpoint.Collections)).Msg("restored from checkpoint")
	}

	replayed, maxLSN, err := rm.replayWALEntries(checkpointLSN)
	if err != nil {
		return fmt.Errorf("failed to replay WAL entries: %w", err)
	}

	if checkpointLSN > maxLSN {
		maxLSN = checkpointLSN
	}
	se.walEngine.SetNextLSN(maxLSN + 1)

	took := time.Since(start)
	se.updateStats(func(s *StorageStats) {
		s.RecoveryTime = took
		s.EntriesReplayed = replayed
	})
	if checkpoint != nil || replayed > 0 {
		se.logger.Info().Int64("replayed", replayed).Int64("next_lsn", maxLSN+1).Dur("took", took).Msg("recovery completed")
	}
	return nil
}

// restoreFromCheckpoint loads collections and locks and rebuilds indexes
func (rm *RecoveryManager) restoreFromCheckpoint(checkpoint *CheckpointData) {
	se := rm.engine
	se.memoryMgr.Restore(checkpoint.Collections, checkpoint.Locks)

	for _, coll := range checkpoint.Collections {
		docs := se.memoryMgr.GetAllDocuments(coll.Name)
		for _, field := range coll.Indexes {
			se.indexEngine.BuildIndexForCollection(coll.Name, field, docs)
		}
	}
}

// replayWALEntries applies every entry with an LSN past the checkpoint, in log order
func (rm *RecoveryManager) replayWALEntries(afterLSN int64) (int64, int64, error) {
	se := rm.engine

	walFiles, err := se.walEngine.GetWALFiles()
	if err != nil {
		return 0, 0, err
	}

	var replayed, maxLSN int64
	for _, walFile := range walFiles {
		entries, err := se.walEngine.ReadEntries(walFile)
		if err != nil {
			return replayed, maxLSN, fmt.Errorf("failed to read WAL file %s: %w", walFile, err)
		}

		for _, entry := range entries {
			if entry.LSN > maxLSN {
				maxLSN = entry.LSN
			}
			if entry.LSN <= afterLSN {
				continue
			}
			if err := se.applyEntry(entry); err != nil {
				se.logger.Warn().Err(err).Int64("lsn", entry.LSN).Msg("skipping WAL entry that failed to apply")
				continue
			}
			replayed++
		}
	}

	return replayed, maxLSN, nil
}
