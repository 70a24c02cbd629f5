package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ticketd/internal/domain"
	logx "ticketd/pkg/logx"
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for dialects that number them.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	numbered bool // $1, $2 ... (postgres)
}

const triggerColumns = `id, identity_id, fire_date, recurring_days, fire_time, is_recurring, is_active, description, created_at, updated_at`

func (s *sqlStore) bind(q string) string {
	if !s.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) CreateIdentity(ctx context.Context, id domain.Identity) (domain.Identity, error) {
	err := s.db.QueryRowContext(ctx,
		s.bind(`INSERT INTO identities(external_id, secret, name) VALUES(?,?,?) RETURNING id`),
		id.ExternalID, id.Secret, id.Name,
	).Scan(&id.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	return id, nil
}

func (s *sqlStore) GetIdentity(ctx context.Context, id int64) (domain.Identity, error) {
	var out domain.Identity
	err := s.db.QueryRowContext(ctx,
		s.bind(`SELECT id, external_id, secret, name FROM identities WHERE id = ?`), id,
	).Scan(&out.ID, &out.ExternalID, &out.Secret, &out.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Identity{}, fmt.Errorf("identity %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Identity{}, err
	}
	return out, nil
}

func (s *sqlStore) ListIdentities(ctx context.Context) ([]domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, external_id, secret, name FROM identities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		var id domain.Identity
		if err := rows.Scan(&id.ID, &id.ExternalID, &id.Secret, &id.Name); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateTrigger(ctx context.Context, t domain.Trigger) error {
	_, err := s.db.ExecContext(ctx,
		s.bind(`INSERT INTO triggers(`+triggerColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`),
		t.ID, t.IdentityID, nullStr(t.FireDate), t.RecurringDays.CronField(), t.FireTime,
		t.IsRecurring, t.IsActive, t.Description, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

func (s *sqlStore) GetTrigger(ctx context.Context, id string) (domain.Trigger, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+triggerColumns+` FROM triggers WHERE id = ?`), id)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trigger{}, fmt.Errorf("trigger %s: %w", id, domain.ErrNotFound)
	}
	return t, err
}

func (s *sqlStore) ListTriggers(ctx context.Context, f TriggerFilter) ([]domain.Trigger, error) {
	var (
		where []string
		args  []any
	)
	if f.IdentityID != nil {
		where = append(where, "identity_id = ?")
		args = append(args, *f.IdentityID)
	}
	if f.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, *f.Active)
	}
	if f.Recurring != nil {
		where = append(where, "is_recurring = ?")
		args = append(args, *f.Recurring)
	}
	q := `SELECT ` + triggerColumns + ` FROM triggers`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY COALESCE(fire_date, '') ASC, fire_time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.bind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateTrigger(ctx context.Context, t domain.Trigger) error {
	res, err := s.db.ExecContext(ctx,
		s.bind(`UPDATE triggers SET identity_id=?, fire_date=?, recurring_days=?, fire_time=?, is_recurring=?, is_active=?, description=?, updated_at=? WHERE id=?`),
		t.IdentityID, nullStr(t.FireDate), t.RecurringDays.CronField(), t.FireTime,
		t.IsRecurring, t.IsActive, t.Description, formatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	return expectOne(res, "trigger "+t.ID)
}

func (s *sqlStore) DeleteTrigger(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM triggers WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	return expectOne(res, "trigger "+id)
}

func (s *sqlStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.bind(`UPDATE triggers SET is_active = ?, updated_at = ? WHERE id = ?`),
		false, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("deactivate trigger: %w", err)
	}
	return expectOne(res, "trigger "+id)
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		s.bind(`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`),
		key, until.UnixMilli(),
	)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, s.bind(`DELETE FROM dedup WHERE until < ?`), time.Now().UnixMilli())
	return nil
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT until FROM dedup WHERE key = ?`), key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(r rowScanner) (domain.Trigger, error) {
	var (
		t                domain.Trigger
		fireDate         sql.NullString
		days             string
		created, updated string
	)
	if err := r.Scan(&t.ID, &t.IdentityID, &fireDate, &days, &t.FireTime, &t.IsRecurring, &t.IsActive, &t.Description, &created, &updated); err != nil {
		return domain.Trigger{}, err
	}
	t.FireDate = fireDate.String
	if days != "" {
		wd, err := domain.ParseWeekdays(days)
		if err != nil {
			return domain.Trigger{}, fmt.Errorf("trigger %s recurring_days: %w", t.ID, err)
		}
		t.RecurringDays = wd
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
