// Package monitoring provides the package-level diagnostic logger shared by
// the pipeline components. The default sink is a zap SugaredLogger writing to
// stderr; tests or embedding applications can redirect or mute it.
package monitoring

import "go.uber.org/zap"

// Logf is the package-level diagnostic logger. It defaults to a zap-backed
// printf sink but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = defaultLogf()

func defaultLogf() func(string, ...interface{}) {
	logger, err := zap.NewProduction()
	if err != nil {
		// zap only fails if the default sink cannot be opened; fall back
		// to a no-op rather than panicking inside package init.
		return func(string, ...interface{}) {}
	}
	return logger.Sugar().Infof
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
