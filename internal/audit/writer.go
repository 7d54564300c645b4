package audit

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

// Writer appends timeline entries inside the caller's transaction so a case
// mutation and its audit trail commit or roll back together. The caller
// supplies the timestamp; every row written during one operation carries the
// operation's clock reading.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Append records an action against a case under the given stage.
func (w *Writer) Append(ctx context.Context, tx *sql.Tx, caseID string, stage domain.Stage, ts, action, operator, notes string) (domain.AuditEntry, error) {
	e := domain.AuditEntry{
		Stage:     stage.String(),
		Timestamp: ts,
		Action:    action,
		Operator:  operator,
		Notes:     notes,
	}
	var notesArg any
	if notes != "" {
		notesArg = notes
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_entries(case_id,stage,ts,action,operator,notes) VALUES (?,?,?,?,?,?)`,
		caseID, e.Stage, e.Timestamp, e.Action, e.Operator, notesArg)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	return e, nil
}
