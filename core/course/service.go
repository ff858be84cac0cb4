package course

import (
	"context"
	"fmt"
	"time"

	"github.com/dcycp/gestion/core"
	"github.com/dcycp/gestion/core/identity"
	"github.com/dcycp/gestion/core/workflow"
)

type (
	// StepView is one step as the presentation surface consumes it.
	StepView struct {
		Key    string              `json:"key"`
		Label  string              `json:"label"`
		Status workflow.StepStatus `json:"status"`
		Actor  string              `json:"actor,omitempty"`
		DoneAt *time.Time          `json:"done_at,omitempty"`
	}

	// ProcessView is one process's stepper for a given caller.
	ProcessView struct {
		Process      workflow.Process `json:"process"`
		CurrentIndex int              `json:"current_index"`
		Complete     bool             `json:"complete"`
		CanEdit      bool             `json:"can_edit"`
		Steps        []StepView       `json:"steps"`
	}

	// Board is the full view of one commission: the activity's approval
	// stepper plus the tracking record's campus and delivery steppers,
	// filtered to the processes the caller may view.
	Board struct {
		CommissionID string        `json:"commission_id"`
		ActivityID   string        `json:"activity_id"`
		CourseName   string        `json:"course_name"`
		Processes    []ProcessView `json:"processes"`
	}

	Submission struct {
		CommissionID string
		Process      workflow.Process
		Keys         []string
	}

	// SubmitResult carries the gate classification and, when any key was
	// accepted, the sync outcome.
	SubmitResult struct {
		Gate            workflow.GateResult `json:"gate"`
		Sync            *SyncResult         `json:"sync,omitempty"`
		ProcessComplete bool                `json:"process_complete"`
	}

	Service struct {
		repo  Repository
		coord *Coordinator
		mail  core.EmailService
		log   core.Logger
		conf  *core.Config
	}
)

func NewService(repo Repository, coord *Coordinator, mailSvc core.EmailService, conf *core.Config, log core.Logger) *Service {
	return &Service{repo: repo, coord: coord, mail: mailSvc, conf: conf, log: log}
}

// QueryAllCourses lists the activities (one per course design workflow).
func (svc *Service) QueryAllCourses(ctx context.Context) ([]Activity, error) {
	return svc.repo.QueryAllActivities(ctx)
}

func (svc *Service) QueryCommissions(ctx context.Context, activityID string) ([]Commission, error) {
	if _, err := svc.repo.GetActivityByID(ctx, activityID); err != nil {
		return nil, err
	}
	return svc.repo.QueryCommissionsByActivity(ctx, activityID)
}

// GetBoard assembles the three steppers of a commission for the caller.
// Processes outside the caller's view set are omitted. pending may be nil.
func (svc *Service) GetBoard(
	ctx context.Context,
	commissionID string,
	perms identity.Permissions,
	pending map[workflow.Process]*workflow.PendingSet,
) (Board, error) {
	com, err := svc.repo.GetCommissionByID(ctx, commissionID)
	if err != nil {
		return Board{}, err
	}
	act, err := svc.repo.GetActivityByID(ctx, com.ActivityID)
	if err != nil {
		return Board{}, err
	}
	trk, err := svc.repo.GetTrackingByCommission(ctx, commissionID)
	if err != nil {
		return Board{}, err
	}

	board := Board{
		CommissionID: com.ID,
		ActivityID:   act.ID,
		CourseName:   act.CourseName,
	}
	for _, proc := range workflow.AllProcesses {
		if !perms.CanView(proc) {
			continue
		}
		marks := act.Marks
		if proc != workflow.ProcessApproval {
			marks = trk.Marks
		}
		board.Processes = append(board.Processes, buildProcessView(proc, marks, perms, pending[proc]))
	}
	return board, nil
}

func buildProcessView(proc workflow.Process, marks Marks, perms identity.Permissions, pending *workflow.PendingSet) ProcessView {
	steps := workflow.Steps(proc)
	prog := workflow.ComputeStatus(steps, marks.State(), pending)

	view := ProcessView{
		Process:      proc,
		CurrentIndex: prog.CurrentIndex,
		Complete:     prog.Complete(),
		CanEdit:      perms.CanEdit(proc),
		Steps:        make([]StepView, len(steps)),
	}
	for i, step := range steps {
		sv := StepView{Key: step.Key, Label: step.Label, Status: prog.PerStep[i]}
		if mark, ok := marks[step.Key]; ok && mark.Done {
			sv.Actor = mark.Actor
			if !mark.DoneAt.IsZero() {
				doneAt := mark.DoneAt
				sv.DoneAt = &doneAt
			}
		}
		view.Steps[i] = sv
	}
	return view
}

// Submit validates and persists a batch of step completions.
//
// There is no cross-session lock on the record: the row is re-read with the
// cache bypassed right before validation, so the ordering check runs against
// the freshest state this session can get, and field-level last-write-wins is
// accepted beyond that.
//
// The pending set is the caller's; accepted keys are added before the write
// and the whole set is cleared once the batch reaches a terminal state, so
// failed keys never linger as optimistically done.
func (svc *Service) Submit(
	ctx context.Context,
	sub Submission,
	actor identity.User,
	pending *workflow.PendingSet,
) (SubmitResult, error) {
	steps := workflow.Steps(sub.Process)
	if steps == nil {
		return SubmitResult{}, workflow.ErrUnknownProcess
	}
	perms := actor.Permissions()
	if pending == nil {
		pending = workflow.NewPendingSet()
	}

	// fresh read before validating
	row, marks, err := svc.loadRecord(ctx, sub, true /* bypassCache */)
	if err != nil {
		return SubmitResult{}, err
	}

	res := SubmitResult{
		Gate: workflow.ValidateSubmission(steps, marks.State(), pending, sub.Keys, perms.CanEdit(sub.Process)),
	}
	if len(res.Gate.Accepted) == 0 {
		return res, nil
	}

	pending.Add(res.Gate.Accepted...)
	sync, err := svc.coord.Apply(ctx, row, res.Gate.Accepted, actor.Name, time.Now())
	res.Sync = &sync
	pending.Clear() // terminal either way; the re-read below is the truth
	if err != nil {
		return res, err
	}

	// refresh and check for process completion
	_, marks, err = svc.loadRecord(ctx, sub, false)
	if err != nil {
		svc.log.Warn("post-sync refresh failed", map[string]interface{}{"commission": sub.CommissionID, "error": err.Error()})
		return res, nil
	}
	prog := workflow.ComputeStatus(steps, marks.State(), nil)
	if prog.Complete() {
		res.ProcessComplete = true
		svc.notifyCompletion(sub, actor)
	}
	return res, nil
}

func (svc *Service) loadRecord(ctx context.Context, sub Submission, bypassCache bool) (RowRef, Marks, error) {
	if sub.Process == workflow.ProcessApproval {
		if bypassCache {
			svc.repo.Invalidate(TableActivities, TableCommissions)
		}
		com, err := svc.repo.GetCommissionByID(ctx, sub.CommissionID)
		if err != nil {
			return RowRef{}, nil, err
		}
		act, err := svc.repo.GetActivityByID(ctx, com.ActivityID)
		if err != nil {
			return RowRef{}, nil, err
		}
		return act.Row, act.Marks, nil
	}

	if bypassCache {
		svc.repo.Invalidate(TableTracking)
	}
	trk, err := svc.repo.GetTrackingByCommission(ctx, sub.CommissionID)
	if err != nil {
		return RowRef{}, nil, err
	}
	return trk.Row, trk.Marks, nil
}

func (svc *Service) notifyCompletion(sub Submission, actor identity.User) {
	if svc.mail == nil || len(svc.conf.Coordinators) == 0 {
		return
	}
	svc.mail.SendMessages(&core.EmailMessage{
		To:      svc.conf.Coordinators,
		Subject: fmt.Sprintf("%s process complete for commission %s", sub.Process, sub.CommissionID),
		BodyStr: fmt.Sprintf("All %s steps of commission %s are now complete. Last step recorded by %s.",
			sub.Process, sub.CommissionID, actor.Name),
	})
}
