package echoapi

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/dcycp/gestion/core"
	"github.com/dcycp/gestion/core/course"
	"github.com/dcycp/gestion/core/identity"
	"github.com/dcycp/gestion/core/workflow"
)

type authApi struct {
	svc *identity.Service
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *identity.Service) {
	api := authApi{svc: svc}

	g.POST("/login", api.login)
	g.POST("/token-refresh", api.refreshToken, jwt)
}

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := authenticate(data.Username, data.Password, api.svc)
	if err != nil {
		return err
	}
	token, err := GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

type courseApi struct {
	svc      *course.Service
	identity *identity.Service
	pending  *pendingTracker
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *course.Service, identitySvc *identity.Service) {
	api := courseApi{
		svc:      svc,
		identity: identitySvc,
		pending:  newPendingTracker(),
	}

	ag := g.Group("", jwt)
	ag.GET("/courses", api.queryCourses)
	ag.GET("/courses/:id/commissions", api.queryCommissions)
	ag.GET("/commissions/:id/board", api.getBoard)
	ag.POST("/commissions/:id/processes/:process/steps", api.submitSteps)
}

// Handlers

func (api *courseApi) queryCourses(ctx echo.Context) error {
	courses, err := api.svc.QueryAllCourses(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Activity{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) queryCommissions(ctx echo.Context) error {
	coms, err := api.svc.QueryCommissions(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == course.ErrActivityNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "querying commissions")
	}
	if coms == nil {
		coms = []course.Commission{}
	}
	return ctx.JSON(http.StatusOK, coms)
}

func (api *courseApi) getBoard(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.identity)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	commissionID := ctx.Param("id")
	board, err := api.svc.GetBoard(
		ctx.Request().Context(),
		commissionID,
		usr.Permissions(),
		api.pending.snapshot(commissionID),
	)
	if err != nil {
		switch errors.Cause(err) {
		case course.ErrCommissionNotFound, course.ErrActivityNotFound, course.ErrTrackingNotFound:
			return errHttpNotFound
		}
		return errors.Wrap(err, "assembling board")
	}
	return ctx.JSON(http.StatusOK, board)
}

func (api *courseApi) submitSteps(ctx echo.Context) error {
	proc, err := workflow.ParseProcess(ctx.Param("process"))
	if err != nil {
		return errHttpNotFound
	}

	var data SubmitRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	usr, err := getContextUser(ctx, api.identity)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	commissionID := ctx.Param("id")
	sub := course.Submission{
		CommissionID: commissionID,
		Process:      proc,
		Keys:         data.Steps,
	}
	res, err := api.svc.Submit(ctx.Request().Context(), sub, usr, api.pending.get(commissionID, proc))
	if err != nil {
		switch {
		case errors.Cause(err) == course.ErrCommissionNotFound,
			errors.Cause(err) == course.ErrActivityNotFound,
			errors.Cause(err) == course.ErrTrackingNotFound:
			return errHttpNotFound
		case res.Sync != nil:
			// the write ran and failed; report what was confirmed
			code := http.StatusBadGateway
			if course.IsRateLimited(err) {
				code = http.StatusServiceUnavailable
			}
			return ctx.JSON(code, res)
		}
		return errors.Wrap(err, "submitting steps")
	}

	if res.Gate.AllForbidden() {
		return errHttpForbidden
	}
	return ctx.JSON(http.StatusOK, res)
}

// pendingTracker holds the per-commission optimistic pending sets shared by
// the board and submit endpoints for the lifetime of the server. The tracker
// mutex guards only membership; the sets themselves are safe for concurrent
// use by racing renders and submissions.
type pendingTracker struct {
	mu   sync.Mutex
	sets map[string]*workflow.PendingSet
}

func newPendingTracker() *pendingTracker {
	return &pendingTracker{sets: make(map[string]*workflow.PendingSet)}
}

func (t *pendingTracker) get(commissionID string, proc workflow.Process) *workflow.PendingSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := commissionID + "/" + string(proc)
	set, ok := t.sets[key]
	if !ok {
		set = workflow.NewPendingSet()
		t.sets[key] = set
	}
	return set
}

func (t *pendingTracker) snapshot(commissionID string) map[workflow.Process]*workflow.PendingSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	views := make(map[workflow.Process]*workflow.PendingSet, len(workflow.AllProcesses))
	for _, proc := range workflow.AllProcesses {
		if set, ok := t.sets[commissionID+"/"+string(proc)]; ok {
			views[proc] = set
		}
	}
	return views
}

// Bindings

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required,alphanum_"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	SubmitRequest struct {
		Steps []string `json:"steps" validate:"required,min=1,dive,required,alphanum_"`
	}
)

func (lr *LoginRequest) Validate() error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return core.Validate.Struct(lr)
}

func (sr *SubmitRequest) Validate() error {
	for i, step := range sr.Steps {
		sr.Steps[i] = core.CleanString(step)
	}
	return core.Validate.Struct(sr)
}
