package logger

// ComponentLevels is implemented by the logging configuration and supplies
// per-component log levels without creating an import cycle with pkg/config.
type ComponentLevels interface {
	GetComponentLevel(component string) string
	IsDevelopment() bool
}

// NewComponentLoggerFromConfig builds a child logger for a component, using
// the component-specific level from the configuration when one is set.
func NewComponentLoggerFromConfig(component string, cfg ComponentLevels) *Logger {
	if cfg == nil {
		return GetDefaultLogger().WithComponent(component)
	}

	l, err := NewLogger(cfg.GetComponentLevel(component), cfg.IsDevelopment())
	if err != nil {
		return GetDefaultLogger().WithComponent(component)
	}

	return l.WithComponent(component)
}
