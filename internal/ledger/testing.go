package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that overwrites an account balance when using
// the in-memory store.
func SeedBalance(s Store, accountID int64, balance decimal.Decimal) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if a, exists := mem.accounts[accountID]; exists {
			a.Balance = balance
			mem.accounts[accountID] = a
		}
	}
}
