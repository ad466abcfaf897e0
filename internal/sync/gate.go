package sync

import (
	"context"

	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/logging"
	"github.com/rohankatakam/warp/internal/trust"
)

// Mode selects how strictly the trust gate enforces writer trust.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeLogOnly Mode = "log-only"
	ModeEnforce Mode = "enforce"
)

// Evaluator produces the current trust evaluation, typically by loading and
// verifying the trust chain. Kept as a function so callers can cache or
// stub it.
type Evaluator func(ctx context.Context) (trust.Evaluation, error)

// Gate applies Mode's policy to the set of writers a sync response claims
// to carry patches from. Writers are extracted from the patches themselves
// (the actual ingress), never from a peer-advertised frontier.
type Gate struct {
	Mode     Mode
	Evaluate Evaluator
}

// Check runs the gate over writers. off always passes; log-only warns and
// always passes (fail-open on an evaluator error too); enforce rejects any
// untrusted writer and fails closed if the evaluator itself errors.
func (g Gate) Check(ctx context.Context, writers []string) error {
	if g.Mode == "" || g.Mode == ModeOff {
		return nil
	}
	eval, err := g.Evaluate(ctx)
	if err != nil {
		if g.Mode == ModeEnforce {
			return errs.Wrapf(err, errs.SyncUntrustedWriter, errs.SeverityHigh, "trust evaluator failed, failing closed")
		}
		logging.Warn("trust evaluator failed, allowing sync (log-only fails open)", "error", err)
		return nil
	}

	var untrusted []string
	for _, w := range writers {
		if !eval.IsTrusted(w) {
			untrusted = append(untrusted, w)
		}
	}
	if len(untrusted) == 0 {
		return nil
	}
	if g.Mode == ModeEnforce {
		return errs.Newf(errs.SyncUntrustedWriter, errs.SeverityHigh, "untrusted writers in sync: %v", untrusted)
	}
	logging.Warn("untrusted writers observed in sync (log-only)", "writers", untrusted)
	return nil
}

// writersApplied returns the unique, sorted set of writer ids a patch list
// carries.
func writersApplied(patches []PatchEnvelope) []string {
	seen := make(map[string]struct{}, len(patches))
	var out []string
	for _, p := range patches {
		if _, ok := seen[p.WriterID]; ok {
			continue
		}
		seen[p.WriterID] = struct{}{}
		out = append(out, p.WriterID)
	}
	return out
}
