package errors

import (
	"errors"
	"sync"
)

// PageError associates a build failure with the page that produced it.
type PageError struct {
	Page string
	Err  error
}

// Error implements the error interface.
func (pe *PageError) Error() string {
	return pe.Page + ": " + pe.Err.Error()
}

// Unwrap returns the page's build error.
func (pe *PageError) Unwrap() error {
	return pe.Err
}

// Collector gathers page build failures from concurrent builds.
type Collector struct {
	errors []*PageError
	mutex  sync.RWMutex
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		errors: make([]*PageError, 0),
	}
}

// Add records a failure for page. Nil errors are ignored.
func (c *Collector) Add(page string, err error) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errors = append(c.errors, &PageError{Page: page, Err: err})
}

// Errors returns a copy of the collected failures.
func (c *Collector) Errors() []*PageError {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make([]*PageError, len(c.errors))
	copy(result, c.errors)
	return result
}

// HasErrors returns true if any failure was recorded.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errors) > 0
}

// Err joins every collected failure, or returns nil.
func (c *Collector) Err() error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if len(c.errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(c.errors))
	for _, pe := range c.errors {
		errs = append(errs, pe)
	}
	return errors.Join(errs...)
}
