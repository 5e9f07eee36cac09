// Package scheduler owns the cron runtime: it registers one recurring entry
// per enabled schedule, fans fires out to a bounded worker pool, and enforces
// the skip-if-running overlap policy per schedule identity.
//
// The registrar holds no job logic. A fire is reduced to a schedule id and
// handed to the executor; everything the run needs is re-read from storage at
// fire time, so edits made between fires always win.
package scheduler
