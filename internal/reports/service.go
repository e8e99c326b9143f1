// Package reports owns service report lifecycle use cases: drafting,
// submission and the approval decision.
package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldcheck/servicereport-backend/internal/audit"
	"github.com/fieldcheck/servicereport-backend/internal/hierarchy"
	"github.com/fieldcheck/servicereport-backend/internal/notifications"
	"github.com/fieldcheck/servicereport-backend/pkg/config"
	"github.com/fieldcheck/servicereport-backend/pkg/db/models"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
	"github.com/fieldcheck/servicereport-backend/pkg/metrics"
	"github.com/fieldcheck/servicereport-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Authority answers hierarchy questions. *hierarchy.Resolver implements it.
type Authority interface {
	IsAncestorOf(ctx context.Context, actorID, subjectID uuid.UUID) (bool, error)
	SubordinatesOf(ctx context.Context, actorID uuid.UUID) (hierarchy.Set, error)
}

// UserFinder loads users. It returns gorm.ErrRecordNotFound for unknown ids.
type UserFinder interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Notifier delivers notifications. *notifications.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, msg notifications.Message) notifications.Result
}

// Service coordinates authorization, the state machine, persistence, audit
// and notification for service reports.
type Service interface {
	Create(ctx context.Context, actorID uuid.UUID, input CreateInput) (*models.ServiceReport, error)
	UpdateDraft(ctx context.Context, actorID, reportID uuid.UUID, fields DraftFields) (*models.ServiceReport, error)
	Submit(ctx context.Context, actorID, reportID uuid.UUID, signature string) (*models.ServiceReport, error)
	Decide(ctx context.Context, actorID, reportID uuid.UUID, input DecisionInput) (*models.ServiceReport, error)
	Delete(ctx context.Context, actorID, reportID uuid.UUID) error
	Get(ctx context.Context, actorID, reportID uuid.UUID) (*models.ServiceReport, error)
	List(ctx context.Context, actorID uuid.UUID, input ListInput) ([]models.ServiceReport, string, error)
	History(ctx context.Context, actorID, reportID uuid.UUID, page pagination.Params) ([]models.AuditEntry, string, error)
}

// Options bounds mutations.
type Options struct {
	Timeout         time.Duration
	ConflictRetries int
}

func OptionsFromConfig(cfg config.ReportsConfig) Options {
	return Options{
		Timeout:         cfg.DecideTimeout(),
		ConflictRetries: cfg.ConflictRetries,
	}
}

// ServiceParams wires the reports service.
type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Authority Authority
	Users     UserFinder
	Audit     audit.Recorder
	Notifier  Notifier
	Logger    *logger.Logger
	Metrics   *metrics.DecisionMetrics
	Options   Options
	// Spawn runs post-commit notification work. Defaults to a goroutine.
	Spawn func(func())
}

type service struct {
	repo      Repository
	tx        txRunner
	authority Authority
	users     UserFinder
	audit     audit.Recorder
	notifier  Notifier
	logg      *logger.Logger
	metrics   *metrics.DecisionMetrics
	opts      Options
	spawn     func(func())
	now       func() time.Time
}

var errVersionConflict = errors.New("report version changed")

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reports repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Authority == nil {
		return nil, fmt.Errorf("hierarchy authority required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user finder required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	opts := params.Options
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	spawn := params.Spawn
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		authority: params.Authority,
		users:     params.Users,
		audit:     params.Audit,
		notifier:  params.Notifier,
		logg:      params.Logger,
		metrics:   params.Metrics,
		opts:      opts,
		spawn:     spawn,
		now:       time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, actorID uuid.UUID, input CreateInput) (*models.ServiceReport, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	actor, err := s.activeUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsFieldRole() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only technicians and technical executives may create reports")
	}

	report := models.ServiceReport{
		ID:           uuid.New(),
		TechnicianID: actor.ID,
		Status:       enums.ReportStatusDraft,
		Version:      1,
	}
	if err := applyDraftFields(&report, input.Fields); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, &report); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "create report")
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:     actor.ID,
			Action:      enums.AuditActionCreate,
			TargetTable: audit.TargetServiceReports,
			TargetID:    report.ID,
			After:       report,
		})
		return err
	})
	if err != nil {
		return nil, persistenceError(err, "create report")
	}
	s.logg.Info(s.logg.WithReportID(ctx, report.ID.String()), "report.created")
	return &report, nil
}

func (s *service) UpdateDraft(ctx context.Context, actorID, reportID uuid.UUID, fields DraftFields) (*models.ServiceReport, error) {
	next, err := s.apply(ctx, actorID, reportID, enums.ReportEventUpdate, Payload{Fields: fields})
	return next, err
}

func (s *service) Submit(ctx context.Context, actorID, reportID uuid.UUID, signature string) (*models.ServiceReport, error) {
	next, err := s.apply(ctx, actorID, reportID, enums.ReportEventSubmit, Payload{Signature: signature})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, enums.ReportEventSubmit, actorID, *next)
	return next, nil
}

// Decide approves or rejects a submitted report. Once started it runs to
// completion even if ctx is canceled, bounded by the configured timeout.
func (s *service) Decide(ctx context.Context, actorID, reportID uuid.UUID, input DecisionInput) (*models.ServiceReport, error) {
	started := s.now()
	decision := string(input.Decision)
	next, err := s.decide(ctx, actorID, reportID, input)
	outcome := "ok"
	if err != nil {
		outcome = string(pkgerrors.CodeOf(err))
	}
	s.metrics.Observe(decision, outcome, s.now().Sub(started))
	return next, err
}

func (s *service) decide(ctx context.Context, actorID, reportID uuid.UUID, input DecisionInput) (*models.ServiceReport, error) {
	if !input.Decision.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "decision must be approve or reject, got %q", input.Decision)
	}
	event := input.Decision.Event()
	next, err := s.apply(ctx, actorID, reportID, event, Payload{
		Signature: input.Signature,
		Remarks:   input.Remarks,
		Notes:     input.Notes,
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, event, actorID, *next)
	return next, nil
}

func (s *service) Delete(ctx context.Context, actorID, reportID uuid.UUID) error {
	_, err := s.apply(ctx, actorID, reportID, enums.ReportEventDelete, Payload{})
	return err
}

func (s *service) Get(ctx context.Context, actorID, reportID uuid.UUID) (*models.ServiceReport, error) {
	report, err := s.load(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if err := s.requireVisible(ctx, actorID, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *service) List(ctx context.Context, actorID uuid.UUID, input ListInput) ([]models.ServiceReport, string, error) {
	if input.Status != "" && !input.Status.IsValid() {
		return nil, "", pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", input.Status)
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	subs, err := s.authority.SubordinatesOf(ctx, actorID)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resolve subordinates")
	}
	owners := append(subs.IDs(), actorID)

	rows, err := s.repo.List(ctx, ListParams{
		TechnicianIDs: owners,
		Status:        input.Status,
		Limit:         input.Limit,
		Cursor:        cursor,
	})
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list reports")
	}
	items, next := pagination.Trim(rows, input.Limit, func(r models.ServiceReport) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return items, next, nil
}

func (s *service) History(ctx context.Context, actorID, reportID uuid.UUID, page pagination.Params) ([]models.AuditEntry, string, error) {
	if _, err := s.Get(ctx, actorID, reportID); err != nil {
		return nil, "", err
	}
	return s.audit.Trail(ctx, audit.TargetServiceReports, reportID, page)
}

// apply runs one state machine event as a unit of work: reload, authorize,
// transition, then persist and audit in a single transaction guarded by the
// report version. A lost race reloads and re-evaluates, so the loser sees the
// winner's state.
func (s *service) apply(ctx context.Context, actorID, reportID uuid.UUID, event enums.ReportEvent, payload Payload) (*models.ServiceReport, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"report_id": reportID.String(),
		"actor_id":  actorID.String(),
		"event":     string(event),
	})

	for attempt := 0; attempt <= s.opts.ConflictRetries; attempt++ {
		current, err := s.load(ctx, reportID)
		if err != nil {
			return nil, err
		}

		actor := Actor{ID: actorID}
		if event == enums.ReportEventApprove || event == enums.ReportEventReject {
			if actor.IsAncestor, err = s.authorizeDecision(ctx, actorID, *current, event); err != nil {
				return nil, err
			}
		}

		next, err := Transition(*current, event, actor, payload, s.now())
		if err != nil {
			return nil, err
		}

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.persist(ctx, tx, actorID, event, *current, &next)
		})
		if errors.Is(err, errVersionConflict) {
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt+1), "report.version_conflict")
			continue
		}
		if err != nil {
			return nil, persistenceError(err, "save report")
		}

		s.logg.Info(s.logg.WithField(ctx, "status", string(next.Status)), "report.transitioned")
		return &next, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "report was modified concurrently, retry the request")
}

func (s *service) persist(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, event enums.ReportEvent, current models.ServiceReport, next *models.ServiceReport) error {
	repo := s.repo.WithTx(tx)
	var (
		ok  bool
		err error
	)
	if event == enums.ReportEventDelete {
		ok, err = repo.DeleteVersioned(ctx, current.ID, current.Version)
	} else {
		ok, err = repo.UpdateVersioned(ctx, next, current.Version)
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "write report")
	}
	if !ok {
		return errVersionConflict
	}

	entry := audit.Entry{
		ActorID:     actorID,
		Action:      enums.AuditActionForEvent(event),
		TargetTable: audit.TargetServiceReports,
		TargetID:    current.ID,
		Before:      current,
	}
	if event != enums.ReportEventDelete {
		entry.After = *next
	}
	_, err = s.audit.Record(ctx, tx, entry)
	return err
}

// authorizeDecision runs before the state machine so an unrelated actor gets
// Forbidden regardless of the report's state.
func (s *service) authorizeDecision(ctx context.Context, actorID uuid.UUID, report models.ServiceReport, event enums.ReportEvent) (bool, error) {
	if actorID == report.TechnicianID {
		return false, pkgerrors.Newf(pkgerrors.CodeForbidden, "a technician may not %s their own report", event)
	}
	ok, err := s.authority.IsAncestorOf(ctx, actorID, report.TechnicianID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resolve hierarchy")
	}
	if !ok {
		return false, pkgerrors.Newf(pkgerrors.CodeForbidden,
			"only the technician's team leader or their manager chain may %s this report", event)
	}
	return true, nil
}

func (s *service) requireVisible(ctx context.Context, actorID uuid.UUID, report *models.ServiceReport) error {
	ok, err := s.authority.IsAncestorOf(ctx, actorID, report.TechnicianID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resolve hierarchy")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "report not found")
	}
	return nil
}

func (s *service) load(ctx context.Context, reportID uuid.UUID) (*models.ServiceReport, error) {
	if reportID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "report id required")
	}
	report, err := s.repo.FindByID(ctx, reportID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "report not found")
	}
	if err != nil {
		return nil, persistenceError(err, "load report")
	}
	return report, nil
}

func (s *service) activeUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.FindUser(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "unknown user")
	}
	if err != nil {
		return nil, persistenceError(err, "load user")
	}
	if !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "user is inactive")
	}
	return user, nil
}

// detach keeps request-scoped values but drops cancellation, then applies the
// mutation timeout. A started mutation is never abandoned halfway.
func (s *service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
}

// afterCommit informs the affected users. It runs outside the transaction and
// its failures only reach the dispatcher's retry path and logs.
func (s *service) afterCommit(ctx context.Context, event enums.ReportEvent, actorID uuid.UUID, report models.ServiceReport) {
	ctx = context.WithoutCancel(ctx)
	s.spawn(func() {
		technician, err := s.users.FindUser(ctx, report.TechnicianID)
		if err != nil {
			s.logg.Error(s.logg.WithReportID(ctx, report.ID.String()), "report.notify_lookup_failed", err)
		}

		switch event {
		case enums.ReportEventSubmit:
			if technician == nil || technician.TeamLeaderID == nil {
				s.logg.Warn(s.logg.WithReportID(ctx, report.ID.String()), "report.submitted_without_team_leader")
				return
			}
			s.notifier.Notify(ctx, *technician.TeamLeaderID, submittedMessage(report, technician))
		case enums.ReportEventApprove, enums.ReportEventReject:
			s.notifier.Notify(ctx, report.TechnicianID, decisionMessage(report, event))
			if technician != nil && technician.TeamLeaderID != nil && *technician.TeamLeaderID != actorID {
				decider, err := s.users.FindUser(ctx, actorID)
				if err != nil {
					s.logg.Error(s.logg.WithReportID(ctx, report.ID.String()), "report.notify_lookup_failed", err)
				}
				s.notifier.Notify(ctx, *technician.TeamLeaderID, escalationMessage(report, event, decider))
			}
		}
	})
}

func persistenceError(err error, message string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, message+": timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodePersistence, err, message)
}
