// Package core provides the business logic for lot traceability runs.
//
// This package is the heart of LotTrace, containing all domain logic
// independent of any UI or transport layer. It can be used by the web
// server, the command line runner, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Tables: A [Table] is an in-memory frame of typed cells read from CSV
//     or XLSX. Operations return new tables and never mutate their input.
//   - Sources: The five input files of a run are registered with [Register]
//     and located by their fixed file names.
//   - Stages: Each pipeline step reads artifacts from the job directory and
//     writes one artifact back. [Runner] executes them in order.
//   - Service: The main entry point for the server (create job, run, search).
//
// # Pipeline
//
// A run executes four stages against one job directory:
//
//  1. clean_raw_data flattens the supplier workbook into cleaned_raw_data.csv
//  2. merge_raw_w_etch joins lots to etching batches by melt number
//  3. cde_merger links the cleaner, developer and etcher logs with
//     forward-only time windows and computes sync_data
//  4. tbl_merge fans the linked station events out over the batches
//
// Each stage runs under [config.PipelineConfig.StageTimeout]. The first
// failure stops the run with a [*StageError] naming the step.
//
// # Linking
//
// [Link] pairs each left event with the latest right event in the window
// (t, t+window]. [ExpandMerge] instead keeps every right event in the window
// and repeats the left row once per match.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FILE001-FILE004: Upload errors (size, format, missing inputs)
//   - JOB001-JOB003: Job errors (unknown job, missing artifacts, busy)
//   - LOT001-LOT002: Search errors (no terms, no match)
//   - PIPE001-PIPE003: Run errors (sync check, timeouts, stage failures)
//   - LAYOUT001: The raw workbook does not match the configured layout
package core
