// Package healthcheck provides the master's /health endpoint plumbing.
package healthcheck

import (
	"errors"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Checker reports whether one aspect of the process is healthy.
type Checker interface {
	Check() error
}

// StartupCompleteChecker fails until the application marks startup done.
type StartupCompleteChecker struct {
	complete atomic.Bool
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	return &StartupCompleteChecker{}
}

func (c *StartupCompleteChecker) MarkComplete() {
	c.complete.Store(true)
}

func (c *StartupCompleteChecker) Check() error {
	if c.complete.Load() {
		return nil
	}
	return errors.New("startup not complete")
}

// MultiChecker combines checkers; it is healthy only if all of them are.
type MultiChecker struct {
	checkers []Checker
}

func NewMultiChecker(checkers ...Checker) *MultiChecker {
	return &MultiChecker{checkers: checkers}
}

func (mc *MultiChecker) Check() error {
	var result *multierror.Error
	for _, checker := range mc.checkers {
		result = multierror.Append(result, checker.Check())
	}
	return result.ErrorOrNil()
}

func (mc *MultiChecker) Add(checker Checker) {
	mc.checkers = append(mc.checkers, checker)
}
