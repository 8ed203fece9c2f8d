package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/primerouter/internal/blob"
	"github.com/smallbiznis/primerouter/internal/clock"
	"github.com/smallbiznis/primerouter/internal/config"
	"github.com/smallbiznis/primerouter/internal/dedup"
	ingestdomain "github.com/smallbiznis/primerouter/internal/ingest/domain"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	obscontext "github.com/smallbiznis/primerouter/internal/observability/context"
	"github.com/smallbiznis/primerouter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/primerouter/internal/observability/metrics"
	"github.com/smallbiznis/primerouter/internal/queue"
	"github.com/smallbiznis/primerouter/internal/ratelimit"
	"github.com/smallbiznis/primerouter/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	statusAccepted = 201
	statusRejected = 400

	defaultELRProcessQueue = "elr-fhir-convert"
)

var errRejected = errors.New("submission rejected")

type ServiceParam struct {
	fx.In

	Repo       lineagedomain.Repository
	Settings   settings.Provider
	Blob       blob.Store
	Queue      queue.Queue
	Clock      clock.Clock
	GenID      *snowflake.Node
	Config     config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
	Lock       *ratelimit.SenderLock `optional:"true"`
}

type Service struct {
	repo       lineagedomain.Repository
	settings   settings.Provider
	blob       blob.Store
	queue      queue.Queue
	clock      clock.Clock
	genID      *snowflake.Node
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
	lock       *ratelimit.SenderLock

	elrQueue string
}

func NewService(p ServiceParam) ingestdomain.Service {
	elrQueue := strings.TrimSpace(p.Config.Queue.ELRProcessQueue)
	if elrQueue == "" {
		elrQueue = defaultELRProcessQueue
	}
	return &Service{
		repo:       p.Repo,
		settings:   p.Settings,
		blob:       p.Blob,
		queue:      p.Queue,
		clock:      p.Clock,
		genID:      p.GenID,
		log:        p.Log.Named("ingest.service"),
		obsMetrics: p.ObsMetrics,
		lock:       p.Lock,
		elrQueue:   elrQueue,
	}
}

// submission is the parsed form of a request shared by both kinds.
type submission struct {
	kind       ingestdomain.Kind
	req        ingestdomain.Request
	rows       []dedup.Row
	itemCount  int
	bodyFormat settings.Format
	// internalBody is the normalized body handed to downstream stages.
	internalBody []byte
	render       func(keep map[int]bool) []byte
}

// outcome is what the transaction produced.
type outcome struct {
	action   *lineagedomain.Action
	report   *lineagedomain.Report
	blobInfo blob.Info
	messages []queuedMessage
	mode     string
}

type queuedMessage struct {
	queue   string
	payload string
}

func (s *Service) Ingest(ctx context.Context, req ingestdomain.Request) (*ingestdomain.Result, error) {
	if strings.TrimSpace(req.Sender.Name) == "" || strings.TrimSpace(req.Sender.OrganizationName) == "" {
		return nil, ingestdomain.ErrInvalidSender
	}
	if !req.Options.Valid() {
		return nil, ingestdomain.ErrInvalidOptions
	}

	senderName := req.Sender.FullName()
	ctx = obscontext.WithSender(ctx, senderName)
	kind := ingestdomain.KindForSender(req.Sender)
	log := logger.WithContext(ctx, s.log).With(zap.String("kind", kind.String()))

	release, err := s.lock.Acquire(ctx, senderName)
	if err != nil {
		return nil, fmt.Errorf("acquire sender lock: %w", err)
	}
	defer release()

	actionLog := lineagedomain.NewActionLogger()
	var sub *submission
	switch kind {
	case ingestdomain.KindELR:
		sub = s.parseELR(req, actionLog)
	default:
		sub = s.parseCovid(req, actionLog)
	}

	out, err := s.persist(ctx, sub, actionLog)
	if errors.Is(err, errRejected) {
		return nil, s.reject(ctx, log, sub, actionLog)
	}
	if err != nil {
		s.obsMetrics.RecordReportReceived(ctx, kind.String(), string(req.Sender.Topic), "failed")
		return nil, err
	}

	for _, msg := range out.messages {
		if err := s.queue.Send(ctx, msg.queue, msg.payload); err != nil {
			log.Error("failed to enqueue submission",
				zap.Int64("action_id", out.action.ID),
				zap.String("queue", msg.queue),
				zap.Error(err),
			)
			return nil, fmt.Errorf("enqueue %s: %w", msg.queue, err)
		}
	}

	s.obsMetrics.RecordReportReceived(ctx, kind.String(), string(req.Sender.Topic), "accepted")
	s.obsMetrics.RecordDispatch(ctx, kind.String(), out.mode)
	log.Info("submission received",
		zap.Int64("action_id", out.action.ID),
		zap.String("report_id", out.report.ReportID.String()),
		zap.Int("item_count", out.report.ItemCount),
		zap.String("mode", out.mode),
	)

	return &ingestdomain.Result{
		ActionID:  out.action.ID,
		ReportID:  out.report.ReportID,
		ItemCount: out.report.ItemCount,
		BlobURL:   out.blobInfo.URL,
		Warnings:  actionLog.Messages(lineagedomain.LogLevelWarning),
	}, nil
}

// persist runs dedup, the receive records and the dispatch records in one
// transaction. errRejected rolls everything back.
func (s *Service) persist(ctx context.Context, sub *submission, actionLog *lineagedomain.ActionLogger) (*outcome, error) {
	req := sub.req
	now := s.clock.Now()
	out := &outcome{}

	err := s.repo.Transaction(ctx, func(tx lineagedomain.Repository) error {
		var unique []dedup.Item
		checkDuplicates := !(req.AllowDuplicates || req.Sender.AllowDuplicates)
		if sub.kind == ingestdomain.KindELR && actionLog.HasErrors() {
			checkDuplicates = false
		}
		if checkDuplicates {
			result, err := dedup.Check(ctx, tx, sub.rows, req.PayloadName, actionLog)
			if err != nil {
				return fmt.Errorf("duplicate check: %w", err)
			}
			s.obsMetrics.RecordDuplicateItems(ctx, sub.kind.String(), len(result.Duplicates))
			unique = result.Unique
			if len(result.Duplicates) > 0 && !result.AllDuplicates() {
				keep := make(map[int]bool, len(unique))
				for _, item := range unique {
					keep[item.Index] = true
				}
				sub.itemCount = len(unique)
				if sub.render != nil {
					sub.internalBody = sub.render(keep)
				}
			}
		} else {
			unique = fingerprintAll(sub.rows)
		}

		if actionLog.HasErrors() {
			return errRejected
		}

		action, err := s.newAction(req, lineagedomain.TaskActionReceive, statusAccepted, now)
		if err != nil {
			return err
		}
		action.ActionResult = fmt.Sprintf("Received %d items", sub.itemCount)

		info, err := s.blob.Upload(ctx, req.Content)
		if err != nil {
			return fmt.Errorf("upload received body: %w", err)
		}

		sender := req.Sender
		report := &lineagedomain.Report{
			ReportID:         uuid.New(),
			ActionID:         action.ID,
			NextAction:       nextActionFor(sub),
			SendingOrg:       strPtr(sender.OrganizationName),
			SendingOrgClient: strPtr(sender.Name),
			SchemaName:       sender.SchemaName,
			SchemaTopic:      string(sender.Topic),
			BodyURL:          strPtr(info.URL),
			BodyFormat:       string(sub.bodyFormat),
			BlobDigest:       info.Digest,
			ExternalName:     optionalStr(req.PayloadName),
			ItemCount:        sub.itemCount,
			CreatedAt:        now,
		}
		actionLog.SetReportID(report.ReportID)

		if err := tx.CreateAction(ctx, action); err != nil {
			return fmt.Errorf("create receive action: %w", err)
		}
		if err := tx.CreateReports(ctx, []*lineagedomain.Report{report}); err != nil {
			return fmt.Errorf("create received report: %w", err)
		}
		if err := tx.CreateItemLineage(ctx, itemLineage(report.ReportID, unique, now)); err != nil {
			return fmt.Errorf("record item fingerprints: %w", err)
		}

		out.action, out.report, out.blobInfo = action, report, info

		switch {
		case sub.kind == ingestdomain.KindELR:
			if err := s.dispatchELR(ctx, tx, sub, out, now); err != nil {
				return err
			}
		case req.IsAsync:
			if err := s.processAsync(ctx, tx, sub, out, now); err != nil {
				return err
			}
		default:
			if err := s.routeSync(ctx, tx, sub, out, actionLog, now); err != nil {
				return err
			}
		}

		if err := tx.CreateLogs(ctx, actionLog.Logs(action.ID)); err != nil {
			return fmt.Errorf("create action logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// reject records a failed receive outside the rolled back transaction so the
// attempt stays listable, and returns the ValidationError for the caller.
func (s *Service) reject(ctx context.Context, log *zap.Logger, sub *submission, actionLog *lineagedomain.ActionLogger) error {
	req := sub.req
	verr := &ingestdomain.ValidationError{
		Errors:   actionLog.Messages(lineagedomain.LogLevelError),
		Warnings: actionLog.Messages(lineagedomain.LogLevelWarning),
	}
	outcomeLabel := "rejected"
	for _, entry := range actionLog.Logs(0) {
		if entry.Detail.Data().Kind == lineagedomain.KindDuplicateSubmission {
			outcomeLabel = "duplicate"
		}
	}
	s.obsMetrics.RecordReportReceived(ctx, sub.kind.String(), string(req.Sender.Topic), outcomeLabel)

	action, err := s.newAction(req, lineagedomain.TaskActionReceive, statusRejected, s.clock.Now())
	if err != nil {
		log.Warn("failed to build rejection action", zap.Error(err))
		return verr
	}
	action.ActionResult = strings.Join(verr.Errors, "; ")

	logs := actionLog.Logs(action.ID)
	for _, entry := range logs {
		entry.ReportID = nil
		entry.CreatedAt = action.CreatedAt
	}

	err = s.repo.Transaction(ctx, func(tx lineagedomain.Repository) error {
		if err := tx.CreateAction(ctx, action); err != nil {
			return err
		}
		return tx.CreateLogs(ctx, logs)
	})
	if err != nil {
		log.Error("failed to record rejected submission", zap.Error(err))
		return verr
	}

	verr.ActionID = action.ID
	log.Info("submission rejected",
		zap.Int64("action_id", action.ID),
		zap.Int("error_count", len(verr.Errors)),
	)
	return verr
}

type actionParams struct {
	Options         ingestdomain.Option `json:"options,omitempty"`
	RouteTo         []string            `json:"routeTo,omitempty"`
	IsAsync         bool                `json:"isAsync"`
	AllowDuplicates bool                `json:"allowDuplicates"`
	PayloadName     string              `json:"payloadName,omitempty"`
}

func (s *Service) newAction(req ingestdomain.Request, name lineagedomain.TaskAction, status int, now time.Time) (*lineagedomain.Action, error) {
	params, err := json.Marshal(actionParams{
		Options:         req.Options,
		RouteTo:         req.RouteTo,
		IsAsync:         req.IsAsync,
		AllowDuplicates: req.AllowDuplicates,
		PayloadName:     req.PayloadName,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal action params: %w", err)
	}
	return &lineagedomain.Action{
		ID:               s.genID.Generate().Int64(),
		ActionName:       name,
		ActionParams:     string(params),
		HTTPStatus:       status,
		SendingOrg:       strPtr(req.Sender.OrganizationName),
		SendingOrgClient: strPtr(req.Sender.Name),
		ExternalName:     optionalStr(req.PayloadName),
		PayloadName:      optionalStr(req.PayloadName),
		ContentLength:    int64(len(req.Content)),
		SenderIP:         optionalStr(req.SenderIP),
		CreatedAt:        now,
	}, nil
}

func (s *Service) dispatchELR(ctx context.Context, tx lineagedomain.Repository, sub *submission, out *outcome, now time.Time) error {
	req := sub.req
	task := newTask(out.report.ReportID, lineagedomain.TaskActionProcess, string(sub.bodyFormat), out.blobInfo.URL, nil, req.Sender.SchemaName, lineagedomain.ProcessEvent{
		EventAction: lineagedomain.TaskActionProcess,
		ReportID:    out.report.ReportID,
		Options:     string(req.Options),
		Defaults:    req.Defaults,
		RouteTo:     req.RouteTo,
	}, nil, now)
	if err := tx.InsertTask(ctx, task); err != nil {
		return fmt.Errorf("insert process task: %w", err)
	}

	payload, err := json.Marshal(ingestdomain.RawSubmission{
		BlobURL: out.blobInfo.URL,
		Digest:  hex.EncodeToString(out.blobInfo.Digest),
		Sender:  req.Sender.FullName(),
	})
	if err != nil {
		return fmt.Errorf("marshal raw submission: %w", err)
	}
	out.messages = append(out.messages, queuedMessage{queue: s.elrQueue, payload: string(payload)})
	out.mode = "queue"
	return nil
}

// nextActionFor names the stage that picks up the received report.
func nextActionFor(sub *submission) lineagedomain.TaskAction {
	if sub.kind == ingestdomain.KindELR || sub.req.IsAsync {
		return lineagedomain.TaskActionProcess
	}
	switch sub.req.Options {
	case ingestdomain.OptionValidatePayload, ingestdomain.OptionCheckConnections:
		return lineagedomain.TaskActionNone
	}
	return lineagedomain.TaskActionBatch
}

func fingerprintAll(rows []dedup.Row) []dedup.Item {
	items := make([]dedup.Item, 0, len(rows))
	for _, row := range rows {
		hash, err := dedup.Fingerprint(row.Fields)
		if err != nil {
			continue
		}
		items = append(items, dedup.Item{Index: row.Index, TrackingID: row.TrackingID, Hash: hash})
	}
	return items
}

func itemLineage(reportID uuid.UUID, items []dedup.Item, now time.Time) []*lineagedomain.ItemLineage {
	out := make([]*lineagedomain.ItemLineage, 0, len(items))
	for _, item := range items {
		out = append(out, &lineagedomain.ItemLineage{
			ReportID:   reportID,
			ItemIndex:  item.Index,
			TrackingID: optionalStr(item.TrackingID),
			ItemHash:   item.Hash,
			CreatedAt:  now,
		})
	}
	return out
}

func strPtr(v string) *string {
	return &v
}

func optionalStr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
