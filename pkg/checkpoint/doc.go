// Package checkpoint persists the progress of batch waits so that an
// interrupted run can resume without polling resources that were already
// ready.
//
// A checkpoint is a JSON file named after the batch. Each parameter set is
// identified by ParamsKey; successful waits are recorded with
// RecordSuccess and skipped on the next run when IsDone reports true.
// Files are replaced atomically through a temporary file and rename.
package checkpoint
