package media

import "errors"

// ErrNoResult reports that a generator ran successfully but the source
// carries nothing to derive: a RAW file with no embedded preview, or a
// video that already plays without a proxy. Callers treat it as a
// completed job, not a failure.
var ErrNoResult = errors.New("no derivable result for source")
