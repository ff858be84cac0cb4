package sheetstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/dcycp/gestion/core"
	"github.com/dcycp/gestion/core/course"
	"github.com/dcycp/gestion/core/workflow"
)

// Column names shared by all tabs. Step columns use the workflow step keys
// plus the derived _user/_timestamp suffixes.
const (
	colActivityID   = "activity_id"
	colCourseName   = "course_name"
	colCommissionID = "commission_id"
)

var tabNames = map[course.Table]string{
	course.TableActivities:  "activities",
	course.TableCommissions: "commissions",
	course.TableTracking:    "tracking",
}

type (
	// Store reads and writes the spreadsheet backing the workflow records.
	// Whole tabs are read and cached for a short TTL: the cache reduces read
	// amplification, it provides no consistency; writers must Invalidate.
	Store struct {
		svc           *sheets.Service
		spreadsheetID string
		cacheTTL      time.Duration
		log           core.Logger

		mu    sync.Mutex
		cache map[course.Table]*tableCache

		nowFunc func() time.Time // mockable
	}

	tableCache struct {
		schema    course.Schema
		rows      [][]string
		fetchedAt time.Time
	}
)

var _ course.Repository = (*Store)(nil)

func Open(ctx context.Context, conf *core.Config, log core.Logger) (*Store, error) {
	svc, err := sheets.NewService(ctx, option.WithCredentialsFile(conf.Sheet.CredentialsFile))
	if err != nil {
		return nil, errors.Wrap(err, "creating sheets client")
	}
	return &Store{
		svc:           svc,
		spreadsheetID: conf.Sheet.SpreadsheetID,
		cacheTTL:      conf.Sheet.CacheTTL,
		log:           log,
		cache:         make(map[course.Table]*tableCache),
		nowFunc:       time.Now,
	}, nil
}

// readTable returns the schema (resolved from the header row on every fetch,
// so remote column reordering between sessions is picked up) and the data
// rows of a tab.
func (s *Store) readTable(ctx context.Context, table course.Table) (course.Schema, [][]string, error) {
	s.mu.Lock()
	cached, ok := s.cache[table]
	if ok && s.nowFunc().Sub(cached.fetchedAt) < s.cacheTTL {
		defer s.mu.Unlock()
		return cached.schema, cached.rows, nil
	}
	s.mu.Unlock()

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, tabNames[table]).Context(ctx).Do()
	if err != nil {
		return nil, nil, &course.LoadError{Table: table, Err: err}
	}
	if len(resp.Values) == 0 {
		return nil, nil, &course.LoadError{Table: table, Err: errors.New("empty tab")}
	}

	header := make([]string, len(resp.Values[0]))
	for i, cell := range resp.Values[0] {
		header[i] = fmt.Sprint(cell)
	}
	schema := SchemaFromHeader(header)

	rows := make([][]string, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}

	s.mu.Lock()
	s.cache[table] = &tableCache{schema: schema, rows: rows, fetchedAt: s.nowFunc()}
	s.mu.Unlock()
	return schema, rows, nil
}

func (s *Store) Invalidate(tables ...course.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(tables) == 0 {
		s.cache = make(map[course.Table]*tableCache)
		return
	}
	for _, table := range tables {
		delete(s.cache, table)
	}
}

func (s *Store) QueryAllActivities(ctx context.Context) ([]course.Activity, error) {
	schema, rows, err := s.readTable(ctx, course.TableActivities)
	if err != nil {
		return nil, err
	}
	acts := make([]course.Activity, 0, len(rows))
	for i, row := range rows {
		acts = append(acts, parseActivity(schema, row, i))
	}
	return acts, nil
}

func (s *Store) GetActivityByID(ctx context.Context, id string) (course.Activity, error) {
	schema, rows, err := s.readTable(ctx, course.TableActivities)
	if err != nil {
		return course.Activity{}, err
	}
	for i, row := range rows {
		if cell(schema, row, colActivityID) == id {
			return parseActivity(schema, row, i), nil
		}
	}
	return course.Activity{}, course.ErrActivityNotFound
}

func (s *Store) QueryCommissionsByActivity(ctx context.Context, activityID string) ([]course.Commission, error) {
	schema, rows, err := s.readTable(ctx, course.TableCommissions)
	if err != nil {
		return nil, err
	}
	var coms []course.Commission
	for _, row := range rows {
		if cell(schema, row, colActivityID) == activityID {
			coms = append(coms, parseCommission(schema, row))
		}
	}
	return coms, nil
}

func (s *Store) GetCommissionByID(ctx context.Context, id string) (course.Commission, error) {
	schema, rows, err := s.readTable(ctx, course.TableCommissions)
	if err != nil {
		return course.Commission{}, err
	}
	for _, row := range rows {
		if cell(schema, row, colCommissionID) == id {
			return parseCommission(schema, row), nil
		}
	}
	return course.Commission{}, course.ErrCommissionNotFound
}

func (s *Store) GetTrackingByCommission(ctx context.Context, commissionID string) (course.Tracking, error) {
	schema, rows, err := s.readTable(ctx, course.TableTracking)
	if err != nil {
		return course.Tracking{}, err
	}
	for i, row := range rows {
		if cell(schema, row, colCommissionID) == commissionID {
			trk := course.Tracking{
				CommissionID: commissionID,
				Marks:        make(course.Marks),
				Row: course.RowRef{
					Table:  course.TableTracking,
					ID:     commissionID,
					Index:  i + 2, // 1-based, after the header row
					Schema: schema,
				},
			}
			for _, proc := range []workflow.Process{workflow.ProcessCampus, workflow.ProcessDelivery} {
				parseMarks(trk.Marks, workflow.Steps(proc), schema, row)
			}
			return trk, nil
		}
	}
	return course.Tracking{}, course.ErrTrackingNotFound
}

// WriteRow updates named cells of one row in a single batch call. The
// coordinator owns sizing, pacing and retries; this only maps column names
// through the row's schema and classifies failures.
func (s *Store) WriteRow(ctx context.Context, row course.RowRef, writes []course.CellWrite) error {
	tab, ok := tabNames[row.Table]
	if !ok {
		return &course.RemoteError{Message: "unknown table " + string(row.Table)}
	}

	data := make([]*sheets.ValueRange, 0, len(writes))
	for _, w := range writes {
		col, err := row.Schema.Col(w.Column)
		if err != nil {
			return &course.RemoteError{Message: "resolving column", Err: err}
		}
		data = append(data, &sheets.ValueRange{
			Range:  A1Ref(tab, col, row.Index),
			Values: [][]interface{}{{w.Value}},
		})
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             data,
	}
	if _, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classifyWriteError(err)
	}
	return nil
}

func classifyWriteError(err error) error {
	if gerr, ok := err.(*googleapi.Error); ok {
		if gerr.Code == 429 || strings.Contains(gerr.Message, "RESOURCE_EXHAUSTED") ||
			strings.Contains(gerr.Message, "Quota exceeded") {
			return &course.RateLimitError{Err: err}
		}
		return &course.RemoteError{Message: gerr.Message, Err: err}
	}
	return &course.RemoteError{Message: "write failed", Err: err}
}

func parseActivity(schema course.Schema, row []string, idx int) course.Activity {
	act := course.Activity{
		ID:         cell(schema, row, colActivityID),
		CourseName: cell(schema, row, colCourseName),
		Marks:      make(course.Marks),
	}
	act.Row = course.RowRef{
		Table:  course.TableActivities,
		ID:     act.ID,
		Index:  idx + 2,
		Schema: schema,
	}
	parseMarks(act.Marks, workflow.Steps(workflow.ProcessApproval), schema, row)
	return act
}

func parseCommission(schema course.Schema, row []string) course.Commission {
	com := course.Commission{
		ID:         cell(schema, row, colCommissionID),
		ActivityID: cell(schema, row, colActivityID),
		Attrs:      make(map[string]string),
	}
	for name := range schema {
		if name == colCommissionID || name == colActivityID {
			continue
		}
		if v := cell(schema, row, name); v != "" {
			com.Attrs[name] = v
		}
	}
	return com
}

func parseMarks(marks course.Marks, steps []workflow.Step, schema course.Schema, row []string) {
	for _, step := range steps {
		mark := course.CheckMark{
			Done:  ParseBool(cell(schema, row, step.Key)),
			Actor: cell(schema, row, workflow.ActorColumn(step.Key)),
		}
		if ts := cell(schema, row, workflow.TimestampColumn(step.Key)); ts != "" {
			if t, err := time.Parse("2006-01-02 15:04:05", ts); err == nil {
				mark.DoneAt = t
			}
		}
		marks[step.Key] = mark
	}
}

func cell(schema course.Schema, row []string, column string) string {
	idx, err := schema.Col(column)
	if err != nil || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// SchemaFromHeader resolves the header-name -> column-index lookup of a tab.
// Duplicate headers keep the first occurrence.
func SchemaFromHeader(header []string) course.Schema {
	schema := make(course.Schema, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := schema[name]; !ok {
			schema[name] = i
		}
	}
	return schema
}

// ParseBool reads the spreadsheet's notion of truth.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "x":
		return true
	}
	return false
}

// A1Ref renders a 0-based column index and a 1-based row index as an A1
// range, e.g. A1Ref("tracking", 27, 5) == "tracking!AB5".
func A1Ref(tab string, col, rowIndex int) string {
	letters := ""
	for col >= 0 {
		letters = string(rune('A'+col%26)) + letters
		col = col/26 - 1
	}
	return fmt.Sprintf("%s!%s%d", tab, letters, rowIndex)
}
