// Package budget gates retries so that a struggling downstream is not
// flooded with re-issued calls.
//
// This package contains:
//   - Budget: the withdraw/deposit contract shared by all logical calls of a route
//   - Infinite and Empty: fixed budgets
//   - TokenBudget: in-process token balance with deposit ratio and time-based reserve
//   - RedisBudget: the same arithmetic kept in Redis, shared across processes
package budget

// Budget is a concurrency-safe pool of retry tokens.
type Budget interface {
	// TryWithdraw consumes one token. It returns false when the budget
	// cannot afford a retry.
	TryWithdraw() bool
	// Deposit replenishes the budget according to its policy.
	Deposit()
}

type infinite struct{}

func (infinite) TryWithdraw() bool { return true }
func (infinite) Deposit()          {}

// Infinite returns a budget that never refuses a retry.
func Infinite() Budget { return infinite{} }

type empty struct{}

func (empty) TryWithdraw() bool { return false }
func (empty) Deposit()          {}

// Empty returns a budget that refuses every retry.
func Empty() Budget { return empty{} }
