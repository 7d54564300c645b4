package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"caseflow/internal/domain"
)

// Repo is the keyed case store. A case id, once inserted, is never reused;
// document, payment, quote and timeline rows are facts and are only appended.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const caseColumns = `id,client_name,client_phone,client_email,relationship,
target_name,target_gender,target_age,target_birthplace,last_known_location,last_contact,additional_info,
reason,stage,rejected,rejection_reason,legal_approved,assigned_to,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var phone, email, relationship sql.NullString
	var tName, tGender, tAge, tBirthplace, tLocation, tContact, tInfo sql.NullString
	var reason, rejectionReason, assignedTo sql.NullString
	var stage int
	var rejected, legalApproved int
	err := row.Scan(&c.ID, &c.Client.Name, &phone, &email, &relationship,
		&tName, &tGender, &tAge, &tBirthplace, &tLocation, &tContact, &tInfo,
		&reason, &stage, &rejected, &rejectionReason, &legalApproved, &assignedTo,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Client.Phone = phone.String
	c.Client.Email = email.String
	c.Client.Relationship = relationship.String
	c.Target = domain.TargetInfo{
		Name:              tName.String,
		Gender:            tGender.String,
		Age:               tAge.String,
		Birthplace:        tBirthplace.String,
		LastKnownLocation: tLocation.String,
		LastContact:       tContact.String,
		AdditionalInfo:    tInfo.String,
	}
	c.Reason = reason.String
	c.Stage = domain.Stage(stage)
	c.Rejected = rejected != 0
	c.RejectionReason = rejectionReason.String
	c.LegalApproved = legalApproved != 0
	if assignedTo.Valid {
		c.AssignedTo = &assignedTo.String
	}
	return &c, nil
}

func (r Repo) InsertCaseTx(ctx context.Context, tx *sql.Tx, c *domain.Case) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cases(`+caseColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Client.Name, nullable(c.Client.Phone), nullable(c.Client.Email), nullable(c.Client.Relationship),
		nullable(c.Target.Name), nullable(c.Target.Gender), nullable(c.Target.Age), nullable(c.Target.Birthplace),
		nullable(c.Target.LastKnownLocation), nullable(c.Target.LastContact), nullable(c.Target.AdditionalInfo),
		nullable(c.Reason), int(c.Stage), boolInt(c.Rejected), nullable(c.RejectionReason), boolInt(c.LegalApproved),
		nullableStringPtr(c.AssignedTo), c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateCaseTx writes back the mutable columns. Identity and intake fields
// are immutable after creation.
func (r Repo) UpdateCaseTx(ctx context.Context, tx *sql.Tx, c *domain.Case) error {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET stage=?, rejected=?, rejection_reason=?, legal_approved=?, assigned_to=?, updated_at=? WHERE id=?`,
		int(c.Stage), boolInt(c.Rejected), nullable(c.RejectionReason), boolInt(c.LegalApproved),
		nullableStringPtr(c.AssignedTo), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCase loads a case with its full timeline, documents, payments and quotes.
func (r Repo) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCaseTx is GetCase inside an open transaction.
func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Case, error) {
	c, err := scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildrenQ(ctx, tx, c); err != nil {
		return nil, err
	}
	return c, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) loadChildren(ctx context.Context, c *domain.Case) error {
	return r.loadChildrenQ(ctx, r.DB, c)
}

func (r Repo) loadChildrenQ(ctx context.Context, q querier, c *domain.Case) error {
	var err error
	if c.Timeline, err = listTimeline(ctx, q, c.ID); err != nil {
		return err
	}
	if c.Documents, err = listDocuments(ctx, q, c.ID); err != nil {
		return err
	}
	if c.Payments, err = listPayments(ctx, q, c.ID); err != nil {
		return err
	}
	if c.Quotes, err = listQuotes(ctx, q, c.ID); err != nil {
		return err
	}
	return nil
}

// CaseFilters narrows ListCases. Status accepts a stage identifier or
// "rejected"; date bounds compare against created_at.
type CaseFilters struct {
	Status     string
	AssignedTo string
	DateFrom   string
	DateTo     string
	Limit      int
}

// ListCases returns matching cases sorted by updated_at descending.
func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]*domain.Case, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		if f.Status == domain.StatusRejected {
			clauses = append(clauses, "rejected=1")
		} else {
			s, err := domain.ParseStage(f.Status)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, "stage=? AND rejected=0")
			args = append(args, int(s))
		}
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "created_at<=?")
		args = append(args, f.DateTo)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + caseColumns + ` FROM cases ` + where + ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryCases(ctx, query, args...)
}

// SearchCases matches the query against case id, client name and target name.
func (r Repo) SearchCases(ctx context.Context, q string) ([]*domain.Case, error) {
	like := "%" + q + "%"
	return r.queryCases(ctx, `SELECT `+caseColumns+` FROM cases
WHERE id LIKE ? OR client_name LIKE ? OR target_name LIKE ?
ORDER BY updated_at DESC, id DESC`, like, like, like)
}

func (r Repo) queryCases(ctx context.Context, query string, args ...any) ([]*domain.Case, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range res {
		if err := r.loadChildren(ctx, c); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// CountCasesTx returns the all-time number of cases, used to derive the next
// case sequence number inside the creation transaction.
func (r Repo) CountCasesTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM cases`).Scan(&n)
	return n, err
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,case_id,type,name,url,size,uploaded_by,uploaded_at,description)
VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.CaseID, d.Type, d.Name, nullable(d.URL), d.Size, d.UploadedBy, d.UploadedAt, nullable(d.Description))
	return err
}

func (r Repo) InsertPaymentTx(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO payments(id,case_id,type,amount,currency,method,transaction_id,status,paid_at,notes)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.CaseID, p.Type, p.Amount, p.Currency, nullable(p.Method), nullable(p.TransactionID), p.Status, p.PaidAt, nullable(p.Notes))
	return err
}

func (r Repo) InsertQuoteTx(ctx context.Context, tx *sql.Tx, q domain.Quote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quotes(id,case_id,amount,currency,description,valid_until,terms,created_by,created_at,status)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		q.ID, q.CaseID, q.Amount, q.Currency, nullable(q.Description), nullable(q.ValidUntil), nullable(q.Terms), q.CreatedBy, q.CreatedAt, q.Status)
	return err
}

func listTimeline(ctx context.Context, q querier, caseID string) ([]domain.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT stage,ts,action,operator,notes FROM audit_entries WHERE case_id=? ORDER BY id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var notes sql.NullString
		if err := rows.Scan(&e.Stage, &e.Timestamp, &e.Action, &e.Operator, &notes); err != nil {
			return nil, err
		}
		e.Notes = notes.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func listDocuments(ctx context.Context, q querier, caseID string) ([]domain.Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,type,name,url,size,uploaded_by,uploaded_at,description FROM documents WHERE case_id=? ORDER BY uploaded_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d := domain.Document{CaseID: caseID}
		var url, description sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Type, &d.Name, &url, &size, &d.UploadedBy, &d.UploadedAt, &description); err != nil {
			return nil, err
		}
		d.URL = url.String
		d.Size = size.Int64
		d.Description = description.String
		res = append(res, d)
	}
	return res, rows.Err()
}

func listPayments(ctx context.Context, q querier, caseID string) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,type,amount,currency,method,transaction_id,status,paid_at,notes FROM payments WHERE case_id=? ORDER BY paid_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p := domain.Payment{CaseID: caseID}
		var method, txID, notes sql.NullString
		if err := rows.Scan(&p.ID, &p.Type, &p.Amount, &p.Currency, &method, &txID, &p.Status, &p.PaidAt, &notes); err != nil {
			return nil, err
		}
		p.Method = method.String
		p.TransactionID = txID.String
		p.Notes = notes.String
		res = append(res, p)
	}
	return res, rows.Err()
}

func listQuotes(ctx context.Context, q querier, caseID string) ([]domain.Quote, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,amount,currency,description,valid_until,terms,created_by,created_at,status FROM quotes WHERE case_id=? ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quote
	for rows.Next() {
		q := domain.Quote{CaseID: caseID}
		var description, validUntil, terms sql.NullString
		if err := rows.Scan(&q.ID, &q.Amount, &q.Currency, &description, &validUntil, &terms, &q.CreatedBy, &q.CreatedAt, &q.Status); err != nil {
			return nil, err
		}
		q.Description = description.String
		q.ValidUntil = validUntil.String
		q.Terms = terms.String
		res = append(res, q)
	}
	return res, rows.Err()
}

// CountByStage returns the number of non-rejected cases per stage; every
// stage appears in the result even when zero.
func (r Repo) CountByStage(ctx context.Context) (map[domain.Stage]int, error) {
	res := map[domain.Stage]int{}
	for _, s := range domain.Stages() {
		res[s] = 0
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT stage, count(*) FROM cases WHERE rejected=0 GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var stage, count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		res[domain.Stage(stage)] = count
	}
	return res, rows.Err()
}

// CountRejected returns the number of rejected cases.
func (r Repo) CountRejected(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM cases WHERE rejected=1`).Scan(&n)
	return n, err
}

// CountArchived returns the archived-case total and how many of those carry a
// success marker in their timeline.
func (r Repo) CountArchived(ctx context.Context) (total, succeeded int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT count(*) FROM cases WHERE stage=? AND rejected=0`, int(domain.StageArchive)).Scan(&total)
	if err != nil {
		return 0, 0, err
	}
	err = r.DB.QueryRowContext(ctx, `SELECT count(DISTINCT c.id) FROM cases c
JOIN audit_entries a ON a.case_id=c.id AND a.action=?
WHERE c.stage=? AND c.rejected=0`, domain.ActionCaseSucceeded, int(domain.StageArchive)).Scan(&succeeded)
	if err != nil {
		return 0, 0, err
	}
	return total, succeeded, nil
}

// SumCompletedPayments adds completed payment amounts with paid_at inside the
// half-open RFC3339 interval [from, to).
func (r Repo) SumCompletedPayments(ctx context.Context, from, to string) (float64, error) {
	var sum float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM payments
WHERE status=? AND paid_at>=? AND paid_at<?`, domain.PaymentCompleted, from, to).Scan(&sum)
	return sum, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
