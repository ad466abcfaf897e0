package patch

import "github.com/rohankatakam/warp/internal/errs"

func errMalformed(t OpType) *errs.Error {
	return errs.Newf(errs.SchemaUnsupported, errs.SeverityHigh, "op %s missing required fields", t)
}

func errUnknownType(t OpType) *errs.Error {
	return errs.Newf(errs.SchemaUnsupported, errs.SeverityHigh, "unknown op type %q", t)
}
