package match

import (
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger replaces the package logger. Call it before a Market is built;
// matching threads read it without synchronization.
func SetLogger(l *slog.Logger) {
	logger = l
}
