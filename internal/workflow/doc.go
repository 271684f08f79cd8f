// Package workflow feeds waveform files into the pipeline driver.
//
// The Manager resolves a policy into a driver, builds one session per file,
// journals every result and publishes notifications for halted files and
// batch summaries. RunOnce drains the incoming directory with a bounded
// number of parallel workers; Watch keeps doing so as files arrive, waiting
// for each file to settle before it is processed and rescanning periodically
// to catch events the watcher missed.
//
// Distinct files may be processed concurrently. A file is never processed by
// two workers at once within one Manager.
package workflow
