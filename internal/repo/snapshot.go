package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"capplan/internal/domain"
)

const dateLayout = "2006-01-02"

var snapshotTables = []string{"people", "leave", "public_holidays", "workstreams", "tasks"}

func formatDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(dateLayout)
}

func formatDatePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatDate(*t)
}

func parseDate(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, v.String)
}

func parseDatePtr(v sql.NullString) (*time.Time, error) {
	t, err := parseDate(v)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

// ReplaceSnapshotTx swaps the stored snapshot for in. Records keep their
// input order through the position column.
func (r Repo) ReplaceSnapshotTx(ctx context.Context, tx *sql.Tx, in domain.Input) error {
	for _, table := range snapshotTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i, p := range in.People {
		if _, err := tx.ExecContext(ctx, `INSERT INTO people(position,name,role,days_per_week) VALUES (?,?,?,?)`,
			i+1, p.Name, nullable(p.Role), p.DaysPerWeek); err != nil {
			return fmt.Errorf("insert person %q: %w", p.Name, err)
		}
	}
	for i, l := range in.Leave {
		if _, err := tx.ExecContext(ctx, `INSERT INTO leave(position,person,start_date,end_date,type,notes) VALUES (?,?,?,?,?,?)`,
			i+1, l.Person, formatDate(l.Start), formatDate(l.End), nullable(l.Type), nullable(l.Notes)); err != nil {
			return fmt.Errorf("insert leave for %q: %w", l.Person, err)
		}
	}
	for i, h := range in.Holidays {
		if _, err := tx.ExecContext(ctx, `INSERT INTO public_holidays(position,date,name) VALUES (?,?,?)`,
			i+1, formatDate(h.Date), nullable(h.Name)); err != nil {
			return fmt.Errorf("insert holiday: %w", err)
		}
	}
	for i, w := range in.Workstreams {
		if _, err := tx.ExecContext(ctx, `INSERT INTO workstreams(position,name,color,priority) VALUES (?,?,?,?)`,
			i+1, w.Name, nullable(w.Color), nullable(w.Priority)); err != nil {
			return fmt.Errorf("insert workstream %q: %w", w.Name, err)
		}
	}
	for i, t := range in.Tasks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(position,name,workstream,assignee,start_date,current_days,original_days,status,priority,actual_end,blocked_by,deadline,confidence,notes)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			i+1, t.Name, nullable(t.Workstream), nullable(t.Assignee), formatDate(t.Start), t.CurrentDays, t.OriginalDays,
			nullable(t.Status), nullable(t.Priority), formatDatePtr(t.ActualEnd), nullable(t.BlockedBy),
			formatDatePtr(t.Deadline), nullable(t.Confidence), nullable(t.Notes)); err != nil {
			return fmt.Errorf("insert task %q: %w", t.Name, err)
		}
	}
	return nil
}

// LoadInput reads the stored snapshot back in input order. Row numbers are
// the stored positions.
func (r Repo) LoadInput(ctx context.Context) (domain.Input, error) {
	var in domain.Input
	var err error
	if in.People, err = r.loadPeople(ctx); err != nil {
		return in, err
	}
	if in.Leave, err = r.loadLeave(ctx); err != nil {
		return in, err
	}
	if in.Holidays, err = r.loadHolidays(ctx); err != nil {
		return in, err
	}
	if in.Workstreams, err = r.loadWorkstreams(ctx); err != nil {
		return in, err
	}
	if in.Tasks, err = r.loadTasks(ctx); err != nil {
		return in, err
	}
	return in, nil
}

func (r Repo) loadPeople(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT position,name,COALESCE(role,''),days_per_week FROM people ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.Row, &p.Name, &p.Role, &p.DaysPerWeek); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) loadLeave(ctx context.Context) ([]domain.LeaveInterval, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT position,person,start_date,end_date,COALESCE(type,''),COALESCE(notes,'') FROM leave ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaveInterval
	for rows.Next() {
		var l domain.LeaveInterval
		var start, end sql.NullString
		if err := rows.Scan(&l.Row, &l.Person, &start, &end, &l.Type, &l.Notes); err != nil {
			return nil, err
		}
		if l.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if l.End, err = parseDate(end); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) loadHolidays(ctx context.Context) ([]domain.PublicHoliday, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT position,date,COALESCE(name,'') FROM public_holidays ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PublicHoliday
	for rows.Next() {
		var h domain.PublicHoliday
		var date sql.NullString
		if err := rows.Scan(&h.Row, &date, &h.Name); err != nil {
			return nil, err
		}
		if h.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) loadWorkstreams(ctx context.Context) ([]domain.Workstream, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT position,name,COALESCE(color,''),COALESCE(priority,'') FROM workstreams ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workstream
	for rows.Next() {
		var w domain.Workstream
		if err := rows.Scan(&w.Row, &w.Name, &w.Color, &w.Priority); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) loadTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT position,name,COALESCE(workstream,''),COALESCE(assignee,''),start_date,current_days,original_days,
COALESCE(status,''),COALESCE(priority,''),actual_end,COALESCE(blocked_by,''),deadline,COALESCE(confidence,''),COALESCE(notes,'')
FROM tasks ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var start, actualEnd, deadline sql.NullString
		if err := rows.Scan(&t.Row, &t.Name, &t.Workstream, &t.Assignee, &start, &t.CurrentDays, &t.OriginalDays,
			&t.Status, &t.Priority, &actualEnd, &t.BlockedBy, &deadline, &t.Confidence, &t.Notes); err != nil {
			return nil, err
		}
		if t.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if t.ActualEnd, err = parseDatePtr(actualEnd); err != nil {
			return nil, err
		}
		if t.Deadline, err = parseDatePtr(deadline); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
