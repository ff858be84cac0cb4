package sqlxstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/dcycp/gestion/core/course"
	"github.com/dcycp/gestion/core/workflow"
)

// Repository is the Postgres mirror of the spreadsheet store, for deployments
// that sync the sheet into a database. Postgres folds unquoted identifiers,
// so step keys map to lowercased column names.
type Repository struct {
	db *sqlx.DB
}

var _ course.Repository = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: sqlx.NewDb(db, "postgres")}
}

type commissionRow struct {
	ID         string      `db:"commission_id"`
	ActivityID string      `db:"activity_id"`
	Cohort     null.String `db:"cohort"`
	Modality   null.String `db:"modality"`
	StartDate  null.Time   `db:"start_date"`
	EndDate    null.Time   `db:"end_date"`
}

func (r *Repository) QueryAllActivities(ctx context.Context) ([]course.Activity, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT * FROM activities ORDER BY activity_id`)
	if err != nil {
		return nil, &course.LoadError{Table: course.TableActivities, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var acts []course.Activity
	for rows.Next() {
		record := make(map[string]interface{})
		if err = rows.MapScan(record); err != nil {
			return nil, &course.LoadError{Table: course.TableActivities, Err: err}
		}
		acts = append(acts, activityFromRecord(record))
	}
	if err = rows.Err(); err != nil {
		return nil, &course.LoadError{Table: course.TableActivities, Err: err}
	}
	return acts, nil
}

func (r *Repository) GetActivityByID(ctx context.Context, id string) (course.Activity, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT * FROM activities WHERE activity_id = $1`, id)
	record := make(map[string]interface{})
	if err := row.MapScan(record); err != nil {
		if err == sql.ErrNoRows {
			return course.Activity{}, course.ErrActivityNotFound
		}
		return course.Activity{}, &course.LoadError{Table: course.TableActivities, Err: err}
	}
	return activityFromRecord(record), nil
}

func (r *Repository) QueryCommissionsByActivity(ctx context.Context, activityID string) ([]course.Commission, error) {
	var rows []commissionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM commissions WHERE activity_id = $1 ORDER BY commission_id`, activityID)
	if err != nil {
		return nil, &course.LoadError{Table: course.TableCommissions, Err: err}
	}
	coms := make([]course.Commission, len(rows))
	for i, row := range rows {
		coms[i] = row.toCommission()
	}
	return coms, nil
}

func (r *Repository) GetCommissionByID(ctx context.Context, id string) (course.Commission, error) {
	var row commissionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM commissions WHERE commission_id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return course.Commission{}, course.ErrCommissionNotFound
		}
		return course.Commission{}, &course.LoadError{Table: course.TableCommissions, Err: err}
	}
	return row.toCommission(), nil
}

func (r *Repository) GetTrackingByCommission(ctx context.Context, commissionID string) (course.Tracking, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT * FROM tracking WHERE commission_id = $1`, commissionID)
	record := make(map[string]interface{})
	if err := row.MapScan(record); err != nil {
		if err == sql.ErrNoRows {
			return course.Tracking{}, course.ErrTrackingNotFound
		}
		return course.Tracking{}, &course.LoadError{Table: course.TableTracking, Err: err}
	}

	trk := course.Tracking{
		CommissionID: commissionID,
		Marks:        make(course.Marks),
		Row: course.RowRef{
			Table: course.TableTracking,
			ID:    commissionID,
		},
	}
	marksFromRecord(trk.Marks, record, workflow.Steps(workflow.ProcessCampus))
	marksFromRecord(trk.Marks, record, workflow.Steps(workflow.ProcessDelivery))
	return trk, nil
}

func (r *Repository) WriteRow(ctx context.Context, row course.RowRef, writes []course.CellWrite) error {
	var table, idCol string
	switch row.Table {
	case course.TableActivities:
		table, idCol = "activities", "activity_id"
	case course.TableTracking:
		table, idCol = "tracking", "commission_id"
	default:
		return &course.RemoteError{Message: "table is read-only: " + string(row.Table)}
	}

	sets := make([]string, len(writes))
	args := make([]interface{}, 0, len(writes)+1)
	for i, w := range writes {
		sets[i] = fmt.Sprintf("%s = $%d", strings.ToLower(w.Column), i+1)
		args = append(args, w.Value)
	}
	args = append(args, row.ID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", table, strings.Join(sets, ", "), idCol, len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &course.RemoteError{Message: "updating " + table, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &course.RemoteError{Message: fmt.Sprintf("%s row %s not found", table, row.ID)}
	}
	return nil
}

// Invalidate is a no-op: SQL reads are not cached.
func (r *Repository) Invalidate(tables ...course.Table) {}

func (row commissionRow) toCommission() course.Commission {
	com := course.Commission{
		ID:         row.ID,
		ActivityID: row.ActivityID,
		Attrs:      make(map[string]string),
	}
	if row.Cohort.Valid {
		com.Attrs["cohort"] = row.Cohort.String
	}
	if row.Modality.Valid {
		com.Attrs["modality"] = row.Modality.String
	}
	if row.StartDate.Valid {
		com.Attrs["start_date"] = row.StartDate.Time.Format("2006-01-02")
	}
	if row.EndDate.Valid {
		com.Attrs["end_date"] = row.EndDate.Time.Format("2006-01-02")
	}
	return com
}

func activityFromRecord(record map[string]interface{}) course.Activity {
	act := course.Activity{
		ID:         asString(record["activity_id"]),
		CourseName: asString(record["course_name"]),
		Marks:      make(course.Marks),
	}
	act.Row = course.RowRef{Table: course.TableActivities, ID: act.ID}
	marksFromRecord(act.Marks, record, workflow.Steps(workflow.ProcessApproval))
	return act
}

func marksFromRecord(marks course.Marks, record map[string]interface{}, steps []workflow.Step) {
	for _, step := range steps {
		col := strings.ToLower(step.Key)
		marks[step.Key] = course.CheckMark{
			Done:   asBool(record[col]),
			Actor:  asString(record[strings.ToLower(workflow.ActorColumn(step.Key))]),
			DoneAt: asTime(record[strings.ToLower(workflow.TimestampColumn(step.Key))]),
		}
	}
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func asTime(v interface{}) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
