package hnswdb

import "go.uber.org/zap"


//============================================= Store Logging


// log is the package-level structured logger. Library-style: constructed once,
// never threaded through call signatures, synced on process teardown by callers
// that own the process lifecycle.
var log *zap.SugaredLogger

func init() {
	logger, buildErr := zap.NewProduction()
	if buildErr != nil { logger = zap.NewNop() }

	log = logger.Sugar()
}

// SetLogger lets an embedding application swap in its own zap logger, e.g. a
// development logger with human-readable console output during tests.
func SetLogger(logger *zap.Logger) {
	log = logger.Sugar()
}
