package common

import (
	"cosim/internal/cosim"
)

// AttachPt is a generic component attachment point.
// T represents the interface type being attached.
type AttachPt[T any] struct {
	enabled     bool
	hasAttached bool
	comp        T
}

// NewAttachPt creates a new attachment point.
func NewAttachPt[T any]() *AttachPt[T] {
	return &AttachPt[T]{
		enabled: true,
	}
}

// Attach attaches an interface of type T to the attachment point.
func (a *AttachPt[T]) Attach(comp T) cosim.Err {
	if a.hasAttached {
		return cosim.ErrAttachTooMany
	}
	a.comp = comp
	a.hasAttached = true
	return cosim.OK
}

// Detach detaches the current component from the attachment point.
func (a *AttachPt[T]) Detach() cosim.Err {
	if !a.hasAttached {
		return cosim.ErrAttachCompNotFound
	}
	var empty T
	a.comp = empty
	a.hasAttached = false
	return cosim.OK
}

// ReplaceFirst detaches any currently attached component and attaches the new one.
func (a *AttachPt[T]) ReplaceFirst(comp T) cosim.Err {
	if a.hasAttached {
		_ = a.Detach()
	}
	return a.Attach(comp)
}

// First returns the current attached interface.
// The caller should check HasAttachedAndEnabled before using it.
func (a *AttachPt[T]) First() T {
	if !a.enabled {
		var empty T
		return empty
	}
	return a.comp
}

// SetEnabled sets the enabled state.
func (a *AttachPt[T]) SetEnabled(enable bool) {
	a.enabled = enable
}

// HasAttached returns true if there is an attached interface.
func (a *AttachPt[T]) HasAttached() bool {
	return a.hasAttached
}

// HasAttachedAndEnabled returns true if there is an attachment and it is enabled.
func (a *AttachPt[T]) HasAttachedAndEnabled() bool {
	return a.hasAttached && a.enabled
}

// Component is the base struct for the bridge, engine and harness parts.
// It carries the component name and the logger attachment.
type Component struct {
	name         string
	logger       AttachPt[Logger]
	errVerbosity cosim.ErrSeverity
}

// InitComponent initializes a Component. This is favored over a constructor
// so it can be safely embedded and initialized in place.
func (c *Component) InitComponent(name string) {
	c.name = name
	c.errVerbosity = cosim.ErrSevWarn
	c.logger.enabled = true
}

// ComponentName returns the component's name.
func (c *Component) ComponentName() string {
	return c.name
}

// LoggerAttachPt returns the logger attachment point.
func (c *Component) LoggerAttachPt() *AttachPt[Logger] {
	return &c.logger
}

// LogError logs an error if a logger is attached.
func (c *Component) LogError(err *Error) {
	if err == nil || !c.logger.HasAttachedAndEnabled() {
		return
	}
	if err.Sev == cosim.ErrSevWarn {
		c.logger.First().Warning(c.name + ": " + err.Error())
		return
	}
	c.logger.First().Error(err)
}

// LogMessage logs a message if the level matches the verbosity and a logger is attached.
func (c *Component) LogMessage(filterLevel cosim.ErrSeverity, msg string) {
	if filterLevel > c.errVerbosity || !c.logger.HasAttachedAndEnabled() {
		return
	}
	l := c.logger.First()
	switch filterLevel {
	case cosim.ErrSevError:
		l.Log(SeverityError, c.name+": "+msg)
	case cosim.ErrSevWarn:
		l.Log(SeverityWarning, c.name+": "+msg)
	default:
		l.Log(SeverityInfo, c.name+": "+msg)
	}
}

// LogDebug passes a debug line straight through to the attached logger,
// which applies its own minimum level.
func (c *Component) LogDebug(msg string) {
	if c.logger.HasAttachedAndEnabled() {
		c.logger.First().Debug(c.name + ": " + msg)
	}
}

// SetErrorLogLevel sets the verbosity of error logging.
func (c *Component) SetErrorLogLevel(level cosim.ErrSeverity) {
	c.errVerbosity = level
}

// ErrorLogLevel returns the current error log level.
func (c *Component) ErrorLogLevel() cosim.ErrSeverity {
	return c.errVerbosity
}
