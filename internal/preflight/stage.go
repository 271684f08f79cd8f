package preflight

import (
	"context"
	"fmt"
	"log/slog"

	"seisarchive/internal/archive"
	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata"
	"seisarchive/internal/sds"
	"seisarchive/internal/services"
	"seisarchive/internal/session"
	"seisarchive/internal/stage"
)

// Name is the stage table key.
const Name = "preflight"

// Reason codes.
const (
	CodeInputMissing       = "input-missing"
	CodeMalformedName      = "malformed-filename"
	CodeNotAuthoritative   = "not-authoritative"
	CodeDuplicate          = "duplicate"
	CodeQuarantineMismatch = "quarantine-mismatch"
)

// Networks answers the authority lookup.
type Networks interface {
	FindNetwork(ctx context.Context, code string) (*metadata.Network, error)
}

// Stage runs the pre-flight checks.
type Stage struct {
	paths    config.Paths
	archive  config.Archive
	checks   config.Checks
	mutator  *archive.Mutator
	networks Networks
	logger   *slog.Logger
}

var _ stage.Stage = (*Stage)(nil)

// New constructs the pre-flight stage. networks may be nil when the
// authority check is disabled.
func New(cfg *config.Config, mutator *archive.Mutator, networks Networks, logger *slog.Logger) *Stage {
	return &Stage{
		paths:    cfg.Paths,
		archive:  cfg.Archive,
		checks:   cfg.Checks,
		mutator:  mutator,
		networks: networks,
		logger:   logging.NewComponentLogger(logger, Name),
	}
}

func (s *Stage) Name() string { return Name }

func (s *Stage) Contract() stage.Contract {
	return stage.Contract{
		Writes:       []session.Field{session.FieldWorkingCopy, session.FieldIdentifier, session.FieldNetwork},
		RawVersioned: true,
	}
}

func (s *Stage) Run(ctx context.Context, path string, sess *session.Session) (stage.Signal, error) {
	logger := logging.WithContext(ctx, s.logger)

	present, err := archive.Exists(path)
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "stat input", path, err)
	}
	if !present {
		return stage.Halt(CodeInputMissing, "file no longer exists in the incoming area"), nil
	}

	name := sess.CanonicalName()
	if sess.Versioned() {
		canonical, identifier, err := sds.SplitVersioned(path)
		if err != nil {
			return stage.Halt(CodeMalformedName, err.Error()), nil
		}
		name = canonical
		if signal, ok := s.validateName(name); !ok {
			return signal, nil
		}
		target, err := archive.Target(s.paths.ScratchDir, name, s.archive.ScratchLayout)
		if err != nil {
			return stage.Halt(CodeMalformedName, err.Error()), nil
		}
		if err := s.mutator.Copy(path, target); err != nil {
			return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "copy working file", target, err)
		}
		sess.SetWorkingCopy(session.WorkingCopy{Path: target, CanonicalName: name})
		if err := sess.SetIdentifier(identifier); err != nil {
			return stage.Signal{}, err
		}
		logger.Info("working copy created",
			logging.String("working_copy", target),
			logging.String(logging.FieldIdentifier, identifier),
		)
	} else if signal, ok := s.validateName(name); !ok {
		return signal, nil
	}

	if s.checks.Authority {
		signal, pass, err := s.checkAuthority(ctx, sess, name)
		if err != nil || !pass {
			return signal, err
		}
	}

	trusted, err := sds.Resolve(s.archive.TrustedDir, name)
	if err != nil {
		return stage.Halt(CodeMalformedName, err.Error()), nil
	}

	if s.checks.Duplicates {
		dup, err := archive.Exists(trusted)
		if err != nil {
			return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "stat trusted copy", trusted, err)
		}
		if dup {
			return s.reject(sess, name, s.archive.WarningDir, CodeDuplicate,
				fmt.Sprintf("file already present in trusted archive at %s", trusted))
		}
	}

	// A re-checkin is expected to differ from the copy tagged during checkout.
	if s.checks.Tagged && !sess.Versioned() {
		tagged := trusted + s.archive.QuarantineTag
		exists, err := archive.Exists(tagged)
		if err != nil {
			return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "stat tagged copy", tagged, err)
		}
		if exists {
			same, err := s.mutator.SameContent(tagged, sess.Location())
			if err != nil {
				return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "compare tagged copy", tagged, err)
			}
			if !same {
				return s.reject(sess, name, s.archive.WarningDir, CodeQuarantineMismatch,
					fmt.Sprintf("content differs from quarantined copy %s", tagged))
			}
		}
	}

	logger.Info("pre-flight checks passed", logging.String(logging.FieldFile, name))
	return stage.Continue(), nil
}

func (s *Stage) validateName(name string) (stage.Signal, bool) {
	if _, err := sds.Parse(name); err != nil {
		return stage.Halt(CodeMalformedName, err.Error()), false
	}
	return stage.Signal{}, true
}

func (s *Stage) checkAuthority(ctx context.Context, sess *session.Session, name string) (stage.Signal, bool, error) {
	if s.networks == nil {
		return stage.Signal{}, false, services.Wrap(services.ErrConfiguration, Name, "authority", "no network store configured", nil)
	}
	parsed, _ := sds.Parse(name)
	network, err := s.networks.FindNetwork(ctx, parsed.Network)
	if err != nil {
		return stage.Signal{}, false, services.Wrap(services.ErrExternalService, Name, "find network", parsed.Network, err)
	}
	if network != nil {
		sess.SetNetwork(session.Network{Code: network.Code, Description: network.Description})
		return stage.Signal{}, true, nil
	}

	message := fmt.Sprintf("network %s is not authoritative", parsed.Network)
	switch {
	case s.checks.AuthorityExit:
		return stage.Halt(CodeNotAuthoritative, message), false, nil
	case s.checks.AuthorityGoto != "":
		sess.SetRejection(session.Rejection{Stage: Name, Code: CodeNotAuthoritative, Message: message})
		return stage.Goto(s.checks.AuthorityGoto, CodeNotAuthoritative, message), false, nil
	}
	signal, err := s.reject(sess, name, s.archive.NoAuthDir, CodeNotAuthoritative, message)
	return signal, false, err
}

// reject moves the file under processing to root with the reject tag and
// drops the versioned original.
func (s *Stage) reject(sess *session.Session, name, root, code, message string) (stage.Signal, error) {
	sess.SetRejection(session.Rejection{Stage: Name, Code: code, Message: message})
	dst, err := s.mutator.Reject(sess.Location(), root, name, s.archive.RejectTag, s.archive.RejectLayout)
	if err != nil {
		return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "reject", sess.Location(), err)
	}
	sess.SetLocation(dst)
	if sess.Versioned() {
		if err := s.mutator.Remove(sess.Source()); err != nil {
			return stage.Signal{}, services.Wrap(services.ErrTransient, Name, "remove versioned input", sess.Source(), err)
		}
	}
	return stage.Halt(code, message), nil
}
