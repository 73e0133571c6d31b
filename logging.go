package veritas

import (
	"io"
	"log/slog"
)

// nopLogger discards everything. It is the default for every component that
// accepts a WithLogger option, so structured logging stays strictly opt-in.
var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
