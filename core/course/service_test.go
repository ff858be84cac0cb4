package course_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dcycp/gestion/core"
	"github.com/dcycp/gestion/core/course"
	"github.com/dcycp/gestion/core/identity"
	"github.com/dcycp/gestion/core/workflow"
	dummydb "github.com/dcycp/gestion/storage/database/dummy"
)

type testLogger struct{}

func (testLogger) Enable(bool)                  {}
func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}

type mailRecorder struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

func (m *mailRecorder) SendMessages(messages ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, messages...)
}

type fixture struct {
	svc  *course.Service
	repo *dummydb.Repository
	mail *mailRecorder
	conf *core.Config
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	repo := dummydb.NewRepository(db)

	repo.CreateActivity(course.Activity{
		ID:         "ACT-1",
		CourseName: "Public Management 101",
		Marks:      course.Marks{"A_Design": {Done: true, Actor: "Ana"}},
	})
	repo.CreateCommission(course.Commission{ID: "COM-1", ActivityID: "ACT-1"})
	repo.CreateTracking(course.Tracking{
		CommissionID: "COM-1",
		Marks:        course.Marks{"C_ClassroomSetup": {Done: true, Actor: "Bob"}},
	})

	conf := core.NewTestConfig()
	conf.Coordinators = append(conf.Coordinators, conf.DefaultFromEmail)
	mail := &mailRecorder{}
	coord := course.NewCoordinator(repo, conf, testLogger{})
	svc := course.NewService(repo, coord, mail, conf, testLogger{})
	return &fixture{svc: svc, repo: repo, mail: mail, conf: conf}
}

func adminUser() identity.User {
	return identity.User{Username: "admin", Name: "Ada Admin", Role: identity.RoleAdmin, IsActive: true}
}

func TestServiceQueryAllCourses(t *testing.T) {
	f := setup(t)
	acts, err := f.svc.QueryAllCourses(context.Background())
	if err != nil {
		t.Fatalf("QueryAllCourses() failed: %v", err)
	}
	if len(acts) != 1 || acts[0].CourseName != "Public Management 101" {
		t.Errorf("QueryAllCourses() = %+v", acts)
	}
}

func TestServiceQueryCommissions(t *testing.T) {
	f := setup(t)

	coms, err := f.svc.QueryCommissions(context.Background(), "ACT-1")
	if err != nil {
		t.Fatalf("QueryCommissions() failed: %v", err)
	}
	if len(coms) != 1 || coms[0].ID != "COM-1" {
		t.Errorf("QueryCommissions() = %+v", coms)
	}

	if _, err = f.svc.QueryCommissions(context.Background(), "ACT-404"); err != course.ErrActivityNotFound {
		t.Errorf("QueryCommissions(ACT-404) error = %v, want ErrActivityNotFound", err)
	}
}

func TestServiceGetBoard(t *testing.T) {
	f := setup(t)

	t.Run("admin sees all three processes", func(t *testing.T) {
		board, err := f.svc.GetBoard(context.Background(), "COM-1", identity.Resolve(identity.RoleAdmin), nil)
		if err != nil {
			t.Fatalf("GetBoard() failed: %v", err)
		}
		if len(board.Processes) != 3 {
			t.Fatalf("processes = %d, want 3", len(board.Processes))
		}
		approval := board.Processes[0]
		if approval.Process != workflow.ProcessApproval || approval.CurrentIndex != 1 {
			t.Errorf("approval view = %+v", approval)
		}
		if approval.Steps[0].Status != workflow.StatusDone || approval.Steps[0].Actor != "Ana" {
			t.Errorf("approval step 0 = %+v", approval.Steps[0])
		}
		if approval.Steps[1].Status != workflow.StatusCurrent {
			t.Errorf("approval step 1 = %+v", approval.Steps[1])
		}
	})

	t.Run("campus role sees only campus and delivery", func(t *testing.T) {
		board, err := f.svc.GetBoard(context.Background(), "COM-1", identity.Resolve(identity.RoleCampus), nil)
		if err != nil {
			t.Fatalf("GetBoard() failed: %v", err)
		}
		if len(board.Processes) != 2 {
			t.Fatalf("processes = %d, want 2", len(board.Processes))
		}
		if board.Processes[0].Process != workflow.ProcessCampus || !board.Processes[0].CanEdit {
			t.Errorf("campus view = %+v", board.Processes[0])
		}
		if board.Processes[1].Process != workflow.ProcessDelivery || board.Processes[1].CanEdit {
			t.Errorf("delivery view = %+v", board.Processes[1])
		}
	})

	t.Run("pending steps render as done", func(t *testing.T) {
		pending := map[workflow.Process]*workflow.PendingSet{
			workflow.ProcessCampus: workflow.NewPendingSet("C_Enrollment"),
		}
		board, err := f.svc.GetBoard(context.Background(), "COM-1", identity.Resolve(identity.RoleCampus), pending)
		if err != nil {
			t.Fatalf("GetBoard() failed: %v", err)
		}
		campus := board.Processes[0]
		if campus.CurrentIndex != 2 {
			t.Errorf("campus CurrentIndex = %d, want 2 (optimistic)", campus.CurrentIndex)
		}
	})

	t.Run("unknown commission", func(t *testing.T) {
		if _, err := f.svc.GetBoard(context.Background(), "COM-404", identity.Resolve(identity.RoleAdmin), nil); err != course.ErrCommissionNotFound {
			t.Errorf("GetBoard(COM-404) error = %v, want ErrCommissionNotFound", err)
		}
	})
}

func TestServiceSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted batch is persisted with actor and timestamp", func(t *testing.T) {
		f := setup(t)
		pending := workflow.NewPendingSet()

		res, err := f.svc.Submit(ctx, course.Submission{
			CommissionID: "COM-1",
			Process:      workflow.ProcessCampus,
			Keys:         []string{"C_Enrollment", "C_Opening"},
		}, adminUser(), pending)
		if err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
		if len(res.Gate.Accepted) != 2 || len(res.Gate.Rejected) != 0 {
			t.Fatalf("gate = %+v", res.Gate)
		}
		if res.Sync == nil || res.Sync.State != course.BatchConfirmed {
			t.Fatalf("sync = %+v", res.Sync)
		}
		if pending.Len() != 0 {
			t.Errorf("pending not cleared: %v", pending.Keys())
		}

		trk, err := f.repo.GetTrackingByCommission(ctx, "COM-1")
		if err != nil {
			t.Fatalf("GetTrackingByCommission() failed: %v", err)
		}
		mark := trk.Marks["C_Enrollment"]
		if !mark.Done || mark.Actor != "Ada Admin" || mark.DoneAt.IsZero() {
			t.Errorf("C_Enrollment mark = %+v", mark)
		}
	})

	t.Run("guest is forbidden and nothing changes", func(t *testing.T) {
		f := setup(t)
		guest := identity.User{Username: "g", Name: "Guest", Role: identity.RoleGuest, IsActive: true}

		res, err := f.svc.Submit(ctx, course.Submission{
			CommissionID: "COM-1",
			Process:      workflow.ProcessDelivery,
			Keys:         []string{"D_Outreach"},
		}, guest, nil)
		if err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
		if !res.Gate.AllForbidden() {
			t.Errorf("gate = %+v, want all forbidden", res.Gate)
		}
		if res.Sync != nil {
			t.Errorf("sync ran for a forbidden batch: %+v", res.Sync)
		}

		trk, _ := f.repo.GetTrackingByCommission(ctx, "COM-1")
		if trk.Marks["D_Outreach"].Done {
			t.Error("forbidden submission mutated state")
		}
	})

	t.Run("already complete produces no write", func(t *testing.T) {
		f := setup(t)
		writeCalls := 0
		f.repo.WriteErrFunc = func(course.RowRef, []course.CellWrite) error {
			writeCalls++
			return nil
		}

		res, err := f.svc.Submit(ctx, course.Submission{
			CommissionID: "COM-1",
			Process:      workflow.ProcessCampus,
			Keys:         []string{"C_ClassroomSetup"},
		}, adminUser(), nil)
		if err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
		if len(res.Gate.Accepted) != 0 {
			t.Errorf("gate accepted %v", res.Gate.Accepted)
		}
		if res.Gate.Rejected[0].Reason != workflow.ReasonAlreadyComplete {
			t.Errorf("reason = %s", res.Gate.Rejected[0].Reason)
		}
		if writeCalls != 0 {
			t.Errorf("WriteRow called %d times for a no-op submission", writeCalls)
		}
	})

	t.Run("out of order is rejected before any write", func(t *testing.T) {
		f := setup(t)

		res, err := f.svc.Submit(ctx, course.Submission{
			CommissionID: "COM-1",
			Process:      workflow.ProcessCampus,
			Keys:         []string{"C_Closing"},
		}, adminUser(), nil)
		if err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
		if len(res.Gate.Accepted) != 0 || res.Gate.Rejected[0].Reason != workflow.ReasonOutOfOrder {
			t.Errorf("gate = %+v", res.Gate)
		}
	})

	t.Run("partial remote failure is surfaced per key", func(t *testing.T) {
		f := setup(t)
		f.conf.Sync.BatchSize = 3 // one key per remote call
		coord := course.NewCoordinator(f.repo, f.conf, testLogger{})
		svc := course.NewService(f.repo, coord, f.mail, f.conf, testLogger{})

		f.repo.WriteErrFunc = func(_ course.RowRef, writes []course.CellWrite) error {
			for _, w := range writes {
				if w.Column == "C_Opening" {
					return &course.RemoteError{Message: "protected cell"}
				}
			}
			return nil
		}

		pending := workflow.NewPendingSet()
		res, err := svc.Submit(ctx, course.Submission{
			CommissionID: "COM-1",
			Process:      workflow.ProcessCampus,
			Keys:         []string{"C_Enrollment", "C_Opening", "C_Closing"},
		}, adminUser(), pending)
		if err == nil {
			t.Fatal("Submit() succeeded, want remote rejection")
		}
		if res.Sync.State != course.BatchPartiallyFailed {
			t.Errorf("sync state = %s", res.Sync.State)
		}
		if len(res.Sync.Confirmed) != 1 || res.Sync.Confirmed[0] != "C_Enrollment" {
			t.Errorf("Confirmed = %v", res.Sync.Confirmed)
		}
		if len(res.Sync.Failed) != 2 {
			t.Errorf("Failed = %v", res.Sync.Failed)
		}
		if pending.Len() != 0 {
			t.Errorf("pending retained failed keys: %v", pending.Keys())
		}

		// the confirmed key stays done
		trk, _ := f.repo.GetTrackingByCommission(ctx, "COM-1")
		if !trk.Marks["C_Enrollment"].Done {
			t.Error("confirmed key lost")
		}
		if trk.Marks["C_Opening"].Done {
			t.Error("failed key persisted")
		}
	})

	t.Run("completing the last step notifies coordinators", func(t *testing.T) {
		f := setup(t)

		res, err := f.svc.Submit(ctx, course.Submission{
			CommissionID: "COM-1",
			Process:      workflow.ProcessCampus,
			Keys:         []string{"C_Enrollment", "C_Opening", "C_Closing", "C_GradeReporting"},
		}, adminUser(), nil)
		if err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
		if !res.ProcessComplete {
			t.Error("ProcessComplete = false after final step")
		}
		if len(f.mail.sent) != 1 {
			t.Fatalf("notifications sent = %d, want 1", len(f.mail.sent))
		}
	})

	t.Run("unknown process", func(t *testing.T) {
		f := setup(t)
		_, err := f.svc.Submit(ctx, course.Submission{
			CommissionID: "COM-1",
			Process:      workflow.Process("payroll"),
			Keys:         []string{"X"},
		}, adminUser(), nil)
		if err != workflow.ErrUnknownProcess {
			t.Errorf("Submit() error = %v, want ErrUnknownProcess", err)
		}
	})
}
