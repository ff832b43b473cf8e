package logging

// globalLoggerRegistry backs the package-level Register*/LoggerNamed helpers
// used by components that look up a shared named logger rather than holding
// one directly.
var globalLoggerRegistry = newRegistry()

// RegisterLogger registers a new logger with a given name in the global
// registry.
func RegisterLogger(name string, logger Logger) {
	globalLoggerRegistry.registerLogger(name, logger)
}

// DeregisterLogger removes a logger previously registered under name.
func DeregisterLogger(name string) bool {
	return globalLoggerRegistry.deregisterLogger(name)
}

// LoggerNamed returns the logger with specified name if it exists.
func LoggerNamed(name string) (Logger, bool) {
	return globalLoggerRegistry.loggerNamed(name)
}

// UpdateLoggerLevel assigns level to the named logger in the global registry.
func UpdateLoggerLevel(name string, level Level) error {
	return globalLoggerRegistry.updateLoggerLevel(name, level)
}

// GetRegisteredLoggerNames returns the names of all loggers in the global
// registry.
func GetRegisteredLoggerNames() []string {
	return globalLoggerRegistry.getRegisteredLoggerNames()
}

// UpdateGlobalLoggerConfig applies a set of pattern-based level overrides to
// the global registry.
func UpdateGlobalLoggerConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalLoggerRegistry.UpdateConfig(logConfig, errorLogger)
}
