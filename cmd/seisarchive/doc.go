// Command seisarchive runs waveform files through the archive policies.
//
// `ingest` and `run` process files once, `watch` keeps processing the
// incoming directory, and the remaining commands inspect the run journal,
// identifier version chains, archive paths, policies, and configuration.
package main
