// Package memory provides in-memory implementations of the outbound ports.
// They back the exchange in development mode and in service tests.
//
// Data is lost on process restart.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/archon-research/carbon-dex/internal/ports/outbound"
)

// Compile-time check that TxManager implements outbound.TxManager
var _ outbound.TxManager = (*TxManager)(nil)

// TxManager serializes transactions. Repositories receive a nil tx.
// There is no rollback: writes made before fn fails stay applied.
type TxManager struct {
	mu sync.Mutex
}

// NewTxManager creates an in-memory transaction manager.
func NewTxManager() *TxManager {
	return &TxManager{}
}

func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(nil)
}
