// Package retry tracks bounded attempt budgets.
package retry

import "fmt"

// Attempt counts tries against a ceiling and remembers the last failure
type Attempt struct {
	Number    int
	Max       int
	LastError error
}

// NewAttempt creates a budget of max tries (at least one)
func NewAttempt(max int) *Attempt {
	if max < 1 {
		max = 1
	}
	return &Attempt{Max: max}
}

// Next starts another try, returning false once the budget is spent
func (a *Attempt) Next() bool {
	if a.Number >= a.Max {
		return false
	}
	a.Number++
	return true
}

// Fail records why the current try failed
func (a *Attempt) Fail(err error) {
	a.LastError = err
}

// Exhausted reports whether no tries remain
func (a *Attempt) Exhausted() bool {
	return a.Number >= a.Max
}

func (a *Attempt) String() string {
	return fmt.Sprintf("%d/%d", a.Number, a.Max)
}
