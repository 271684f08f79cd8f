package organizer

import (
	"log/slog"

	"seisarchive/internal/archive"
	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/services"
)

// Stage table keys.
const (
	TagName             = "tagafile"
	MoveName            = "move2archive"
	CheckoutWorkingName = "checkout2working"
	CheckoutPastName    = "checkout2past"
	DeleteInputName     = "delinput"
)

// Reason codes.
const (
	CodeInputMissing    = "input-missing"
	CodeTrustedMismatch = "trusted-mismatch"
	CodeMalformedName   = "malformed-filename"
)

// base carries what every organizer stage needs.
type base struct {
	name    string
	archive config.Archive
	mutator *archive.Mutator
	logger  *slog.Logger
}

func newBase(name string, cfg *config.Config, mutator *archive.Mutator, logger *slog.Logger) base {
	return base{
		name:    name,
		archive: cfg.Archive,
		mutator: mutator,
		logger:  logging.NewComponentLogger(logger, name),
	}
}

func (b base) Name() string { return b.name }

func (b base) fsError(op, path string, err error) error {
	return services.Wrap(services.ErrTransient, b.name, op, path, err)
}
