// Package classify turns fetched emails into category verdicts using an
// LLM chat endpoint. Emails are classified in concurrent batches; a batch
// that fails terminally is downgraded to ERROR classifications so one bad
// batch never sinks the run.
package classify
