package preflight

import (
	"context"

	"seisarchive/internal/config"
)

// Result reports the outcome of a single readiness check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable readiness checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	dirs := []struct{ name, path string }{
		{"Incoming directory", cfg.Paths.IncomingDir},
		{"Scratch directory", cfg.Paths.ScratchDir},
		{"State directory", cfg.Paths.StateDir},
		{"Trusted archive", cfg.Archive.TrustedDir},
		{"Warning archive", cfg.Archive.WarningDir},
		{"Bad archive", cfg.Archive.BadDir},
		{"Version archive", cfg.Archive.VersionDir},
	}
	var results []Result
	for _, dir := range dirs {
		results = append(results, CheckDirectoryAccess(dir.name, dir.path))
	}

	if cfg.Sanity.CheckEpochs {
		results = append(results, CheckStationService(ctx, cfg.Station.Endpoint))
	}
	if cfg.HDFS.Endpoint != "" {
		results = append(results, CheckHTTP(ctx, "WebHDFS", cfg.HDFS.Endpoint))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
