package bootstrap

import (
	"errors"
	"io"
	"log/slog"
)

// Closers releases resources in reverse order of acquisition
type Closers struct {
	logger *slog.Logger
	names  []string
	items  []io.Closer
}

// NewClosers creates an empty set
func NewClosers(logger *slog.Logger) *Closers {
	return &Closers{logger: logger}
}

// Add registers c under name
func (c *Closers) Add(name string, closer io.Closer) {
	c.names = append(c.names, name)
	c.items = append(c.items, closer)
}

// Close closes everything, last added first, and joins the errors
func (c *Closers) Close() error {
	var errs []error
	for i := len(c.items) - 1; i >= 0; i-- {
		if err := c.items[i].Close(); err != nil {
			c.logger.Error("Failed to close resource",
				slog.String("resource", c.names[i]),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	c.names, c.items = nil, nil
	return errors.Join(errs...)
}
