// Package backfill computes a derived field for every record of a collection
// and writes the results back in bounded batches.
//
// The pipeline is RecordSource -> Deriver -> Accumulator, driven by Runner.
// Each batch is committed with whatever atomicity the store offers for one
// bounded multi-write commit, which for every store in this module is
// all-or-nothing. There is no atomicity across batches: if the process dies
// mid-run, batches committed before the crash stay committed and later ones
// are never attempted. Re-running is safe because records whose derived field
// already holds the right value are skipped.
//
// Failed batches do not stop a run. Their writes are reported in
// RunSummary.RetryCandidates so an operator can inspect them and start an
// explicit retry pass with an IDSource.
package backfill
