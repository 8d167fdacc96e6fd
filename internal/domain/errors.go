package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError carries the per-line reasons a sale was refused before any mutation.
type ValidationError struct {
	Failures []LineValidation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("line %d (%s): %s", f.LineIndex, f.ProductID, strings.Join(f.Reasons, ",")))
	}
	return "sale validation failed: " + strings.Join(parts, "; ")
}

// DeductionError is a failed stock write. It always triggers a rollback.
type DeductionError struct {
	InventoryItemID string
	Err             error
}

func (e *DeductionError) Error() string {
	return fmt.Sprintf("deduct %s: %v", e.InventoryItemID, e.Err)
}

func (e *DeductionError) Unwrap() error { return e.Err }

// AuditWriteWarning records a ledger or movement row that could not be written
// after the stock row itself was updated.
type AuditWriteWarning struct {
	TransactionID   string
	InventoryItemID string
	Record          string
	Err             error
}

func (w AuditWriteWarning) Error() string {
	return fmt.Sprintf("audit %s write failed for %s (tx %s): %v", w.Record, w.InventoryItemID, w.TransactionID, w.Err)
}

func (w AuditWriteWarning) Unwrap() error { return w.Err }

type SyncError struct {
	RecipeID string
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync recipe %s: %v", e.RecipeID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

type MatchNotFoundError struct {
	StoreID string
	Name    string
	Unit    string
}

func (e *MatchNotFoundError) Error() string {
	return fmt.Sprintf("no inventory item matches %q (%s) in store %s", e.Name, e.Unit, e.StoreID)
}

func IsMatchNotFound(err error) bool {
	var target *MatchNotFoundError
	return errors.As(err, &target)
}
