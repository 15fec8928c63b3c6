package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/ven-fleet-simulator/internal/anomaly"
	"github.com/septivank/ven-fleet-simulator/internal/config"
	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/logging"
	"github.com/septivank/ven-fleet-simulator/internal/mq"
	"github.com/septivank/ven-fleet-simulator/internal/readings"
	"github.com/septivank/ven-fleet-simulator/internal/repository"
	"github.com/septivank/ven-fleet-simulator/internal/simulation"
	"github.com/septivank/ven-fleet-simulator/internal/vtn"
	"github.com/septivank/ven-fleet-simulator/tools/timeparser"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TelemetrySink receives every live reading sent to the VTN
type TelemetrySink interface {
	PublishTelemetry(ctx context.Context, event mq.TelemetryEvent) error
}

// NopSink discards telemetry
type NopSink struct{}

func (NopSink) PublishTelemetry(ctx context.Context, event mq.TelemetryEvent) error { return nil }

// UploadProgressFunc is called after every uploaded chunk
type UploadProgressFunc func(loadID string, uploaded, total int)

// StatusCommand changes the registration status of one resource
type StatusCommand struct {
	VenID      string `json:"ven_id"`
	ResourceID string `json:"resource_id"`
	Status     string `json:"status"`
}

// Pipeline registers VENs and loads with the VTN, uploads history and
// forwards live readings produced by the simulation engine.
type Pipeline struct {
	catalog  repository.Catalog
	engine   *simulation.Engine
	source   readings.Source
	client   *vtn.Client
	tokens   vtn.TokenProvider
	detector *anomaly.Detector
	sink     TelemetrySink
	cfg      *config.Config
	logger   *zap.Logger

	mu         sync.RWMutex
	sessions   map[string]VenSession
	onProgress UploadProgressFunc
}

// NewPipeline creates a new pipeline
func NewPipeline(
	catalog repository.Catalog,
	engine *simulation.Engine,
	source readings.Source,
	client *vtn.Client,
	tokens vtn.TokenProvider,
	detector *anomaly.Detector,
	sink TelemetrySink,
	cfg *config.Config,
	logger *zap.Logger,
) *Pipeline {
	if sink == nil {
		sink = NopSink{}
	}
	return &Pipeline{
		catalog:  catalog,
		engine:   engine,
		source:   source,
		client:   client,
		tokens:   tokens,
		detector: detector,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]VenSession),
	}
}

// OnUploadProgress installs a progress callback for BulkUploadHistorical
func (p *Pipeline) OnUploadProgress(fn UploadProgressFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onProgress = fn
}

// Session returns the registration session of a VEN
func (p *Pipeline) Session(venID string) (VenSession, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[venID]
	return s, ok
}

// RegisteredVens returns the VENs holding a session, sorted
func (p *Pipeline) RegisteredVens() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	vens := make([]string, 0, len(p.sessions))
	for ven := range p.sessions {
		vens = append(vens, ven)
	}
	sort.Strings(vens)
	return vens
}

// RegisterVen creates the VEN on the VTN. An existing VEN is not an error;
// its session then uses the service token.
func (p *Pipeline) RegisterVen(ctx context.Context, venID string) error {
	venLogger := logging.WithVen(p.logger, venID)

	reg, err := p.client.RegisterVen(ctx, venID)
	switch {
	case err == nil:
		p.storeSession(venID, VenSession{VenID: reg.ID, VenName: reg.VenName, AuthToken: reg.AuthToken})
		venLogger.Info("ven registered", zap.String("vtn_ven_id", reg.ID))
		return nil

	case errors.Is(err, vtn.ErrRegistrationConflict):
		token, terr := p.tokens.Token(ctx)
		if terr != nil {
			return fmt.Errorf("ven %s exists but no service token: %w", venID, terr)
		}
		p.storeSession(venID, VenSession{VenID: venID, VenName: venID, AuthToken: token, Existing: true})
		venLogger.Warn("ven already exists on vtn")
		return nil

	default:
		venLogger.Error("ven registration failed", zap.Error(err))
		return err
	}
}

func (p *Pipeline) storeSession(venID string, s VenSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[venID] = s
}

// RegisterLoadsParallel registers every load of a VEN in concurrent batches.
// Items fail independently; registered ids are written back to the catalog
// after all batches have run.
func (p *Pipeline) RegisterLoadsParallel(ctx context.Context, venID string, batchSize int, interBatchDelay time.Duration) (*RegistrationSummary, error) {
	if _, ok := p.Session(venID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrVenNotFound, venID)
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	venLogger := logging.WithVen(p.logger, venID)

	items, err := p.catalog.ListLoadsWithResources(ctx, venID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loads: %w", err)
	}

	summary := &RegistrationSummary{VenID: venID, Total: len(items)}
	outcomes := make([]registrationOutcome, len(items))

	batches := (len(items) + batchSize - 1) / batchSize
	venLogger.Info("registering loads",
		zap.Int("loads", len(items)),
		zap.Int("batch_size", batchSize),
		zap.Int("batches", batches),
	)

	for start, batch := 0, 1; start < len(items); start, batch = start+batchSize, batch+1 {
		if start > 0 && interBatchDelay > 0 {
			if err := sleepContext(ctx, interBatchDelay); err != nil {
				for i := start; i < len(items); i++ {
					outcomes[i] = registrationOutcome{kind: outcomeFailed, err: err}
				}
				break
			}
		}

		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				outcomes[i] = p.registerLoad(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()

		venLogger.Debug("batch completed", zap.Int("batch", batch), zap.Int("of", batches))
	}

	var persistErrs []error
	for i, out := range outcomes {
		load := items[i].Load
		switch out.kind {
		case outcomeRegistered:
			if err := p.catalog.SetExternalID(ctx, load.LoadID, out.externalID, db.StatusApproved); err != nil {
				persistErrs = append(persistErrs, err)
				summary.Failed++
				continue
			}
			summary.Registered++
			if out.reconciled {
				summary.Reconciled++
			}
		case outcomeAmbiguous:
			summary.Ambiguous++
			venLogger.Warn("load likely registered already, id not recovered",
				zap.String("load_id", load.LoadID),
				zap.Error(out.err),
			)
		case outcomeSkipped:
			summary.Skipped++
		default:
			summary.Failed++
			venLogger.Error("load registration failed",
				zap.String("load_id", load.LoadID),
				zap.Error(out.err),
			)
		}
	}

	venLogger.Info("load registration finished",
		zap.Int("total", summary.Total),
		zap.Int("registered", summary.Registered),
		zap.Int("reconciled", summary.Reconciled),
		zap.Int("ambiguous", summary.Ambiguous),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)

	if len(persistErrs) > 0 {
		return summary, fmt.Errorf("failed to persist external ids: %w", errors.Join(persistErrs...))
	}
	return summary, nil
}

func (p *Pipeline) registerLoad(ctx context.Context, item db.LoadWithResource) registrationOutcome {
	if item.Load.ExternalResourceID != nil && *item.Load.ExternalResourceID != "" {
		return registrationOutcome{kind: outcomeSkipped}
	}

	req := BuildLoadRegistration(item)

	reg, err := p.client.RegisterResource(ctx, req)
	if err == nil {
		return registrationOutcome{kind: outcomeRegistered, externalID: reg.ID}
	}
	if !vtn.IsAlreadyRegistered(err) {
		return registrationOutcome{kind: outcomeFailed, err: err}
	}

	found, lookupErr := p.client.FindRegistrations(ctx, req)
	if lookupErr != nil {
		return registrationOutcome{kind: outcomeAmbiguous, err: errors.Join(err, lookupErr)}
	}
	if len(found) != 1 {
		return registrationOutcome{
			kind: outcomeAmbiguous,
			err:  fmt.Errorf("%w: %d vtn records match load %s", err, len(found), item.Load.LoadID),
		}
	}
	return registrationOutcome{kind: outcomeRegistered, externalID: found[0].ID, reconciled: true}
}

// BulkUploadHistorical uploads the full recorded series of every registered
// load of a VEN in chunks. A failed chunk ends the upload of that load only.
func (p *Pipeline) BulkUploadHistorical(ctx context.Context, venID string, chunkSize, batchSize, limitLoads int) (*UploadSummary, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	venLogger := logging.WithVen(p.logger, venID)

	loads, err := p.catalog.ListRegisteredLoads(ctx, venID, limitLoads)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered loads: %w", err)
	}

	summary := &UploadSummary{VenID: venID, TotalLoads: len(loads)}
	venLogger.Info("uploading historical data", zap.Int("loads", len(loads)), zap.Int("chunk_size", chunkSize))

	for _, load := range loads {
		if err := ctx.Err(); err != nil {
			summary.Failed += summary.TotalLoads - summary.Successful - summary.Failed
			return summary, err
		}

		uploaded, err := p.uploadLoad(ctx, load, chunkSize, batchSize)
		summary.TotalPointsUploaded += uploaded
		if err != nil {
			summary.Failed++
			venLogger.Error("historical upload failed",
				zap.String("load_id", load.LoadID),
				zap.Int("points_uploaded", uploaded),
				zap.Error(err),
			)
			continue
		}
		summary.Successful++
	}

	venLogger.Info("historical upload finished",
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("points", summary.TotalPointsUploaded),
	)

	return summary, nil
}

func (p *Pipeline) uploadLoad(ctx context.Context, load db.Load, chunkSize, batchSize int) (int, error) {
	series, err := p.source.Series(load.AssignedMeterID, load.LoadComponent)
	if err != nil {
		return 0, err
	}

	valuesKW := make([]float64, len(series))
	for i, s := range series {
		valuesKW[i] = s.PowerW / 1000
	}
	codes := p.detector.QualityCodes(valuesKW)

	p.mu.RLock()
	progress := p.onProgress
	p.mu.RUnlock()

	externalID := *load.ExternalResourceID
	uploaded := 0
	for start := 0; start < len(series); start += chunkSize {
		end := start + chunkSize
		if end > len(series) {
			end = len(series)
		}

		points := make([]vtn.DataPoint, 0, end-start)
		for i := start; i < end; i++ {
			begin, finish := timeparser.IntervalBounds(series[i].TimestampS, timeparser.SampleInterval)
			points = append(points, vtn.DataPoint{
				IntervalStart: timeparser.FormatInterval(begin),
				IntervalEnd:   timeparser.FormatInterval(finish),
				Value:         valuesKW[i],
				QualityCode:   codes[i],
			})
		}

		if _, err := p.client.UploadBulk(ctx, externalID, points, batchSize); err != nil {
			return uploaded, err
		}
		uploaded += len(points)

		if progress != nil {
			progress(load.LoadID, uploaded, len(series))
		}
	}

	return uploaded, nil
}

type reportJob struct {
	session    VenSession
	venID      string
	resourceID string
	meterID    string
	externalID string
	reading    simulation.MeterReading
}

// GenerateReports advances simulated time once and sends one report per
// channel reading of every registered VEN, all concurrently.
func (p *Pipeline) GenerateReports(ctx context.Context) (*ReportSummary, error) {
	index, err := p.engine.IncreaseTime(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []reportJob
	for _, venID := range p.RegisteredVens() {
		session, _ := p.Session(venID)

		snapshot, err := p.engine.CollectNextMetering(venID)
		if err != nil {
			logging.WithVen(p.logger, venID).Warn("no snapshot for ven", zap.Error(err))
			continue
		}

		externalIDs := p.externalIDs(ctx, venID)

		resourceIDs := make([]string, 0, len(snapshot))
		for id := range snapshot {
			resourceIDs = append(resourceIDs, id)
		}
		sort.Strings(resourceIDs)

		for _, id := range resourceIDs {
			data := snapshot[id]
			for _, reading := range data.Readings {
				externalID, ok := externalIDs[id+"/"+reading.LoadComponent]
				if !ok {
					externalID = id
				}
				jobs = append(jobs, reportJob{
					session:    session,
					venID:      venID,
					resourceID: id,
					meterID:    data.MeterID,
					externalID: externalID,
					reading:    reading,
				})
			}
		}
	}

	results := make([]error, len(jobs))
	var g errgroup.Group
	for i := range jobs {
		i := i
		g.Go(func() error {
			results[i] = p.sendReport(ctx, index, jobs[i])
			return nil
		})
	}
	_ = g.Wait()

	summary := &ReportSummary{Index: index, Attempted: len(jobs)}
	for i, err := range results {
		if err != nil {
			summary.Failed++
			p.logger.Warn("report failed",
				zap.String("ven_id", jobs[i].venID),
				zap.String("resource_id", jobs[i].resourceID),
				zap.String("load_component", jobs[i].reading.LoadComponent),
				zap.Error(err),
			)
			continue
		}
		summary.Succeeded++
	}

	p.logger.Info("reports generated",
		zap.Int("index", index),
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)

	return summary, nil
}

// externalIDs maps resource/component to the VTN id of the registered load
func (p *Pipeline) externalIDs(ctx context.Context, venID string) map[string]string {
	out := make(map[string]string)
	loads, err := p.catalog.ListRegisteredLoads(ctx, venID, 0)
	if err != nil {
		logging.WithVen(p.logger, venID).Warn("failed to list registered loads", zap.Error(err))
		return out
	}
	for _, load := range loads {
		out[load.ResourceID+"/"+load.LoadComponent] = *load.ExternalResourceID
	}
	return out
}

func (p *Pipeline) sendReport(ctx context.Context, index int, job reportJob) error {
	ts := timeparser.MillisToTime(job.reading.TimestampMS)

	report := vtn.ReportRequest{
		ReportName:     fmt.Sprintf("%s_%s_%s", job.venID, vtn.ReportTypeUsage, uuid.NewString()),
		VenID:          job.session.VenID,
		ResourceID:     job.externalID,
		ReportType:     vtn.ReportTypeUsage,
		ReadingType:    vtn.ReadingTypePower,
		LoadComponent:  job.reading.LoadComponent,
		IntervalStart:  timeparser.FormatInterval(ts),
		IntervalPeriod: vtn.ReportIntervalPeriod,
		ValueKW:        job.reading.PowerW / 1000,
	}

	if err := p.client.CreateReport(ctx, job.session.AuthToken, report); err != nil {
		return err
	}

	event := mq.TelemetryEvent{
		VenID:         job.venID,
		ResourceID:    job.resourceID,
		MeterID:       job.meterID,
		LoadComponent: job.reading.LoadComponent,
		TimestampMS:   job.reading.TimestampMS,
		PowerW:        job.reading.PowerW,
		Cursor:        index,
	}
	if err := p.sink.PublishTelemetry(ctx, event); err != nil {
		p.logger.Warn("failed to publish telemetry", zap.String("resource_id", job.resourceID), zap.Error(err))
	}

	return nil
}

// HandleStatusCommand applies a status command received from the message bus
func (p *Pipeline) HandleStatusCommand(ctx context.Context, body []byte) error {
	var cmd StatusCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal status command: %w", err)
	}
	if cmd.VenID == "" || cmd.ResourceID == "" {
		return errors.New("status command requires ven_id and resource_id")
	}

	status, err := db.ParseStatus(cmd.Status)
	if err != nil {
		return err
	}

	return p.engine.UpdateResourceStatus(ctx, cmd.VenID, cmd.ResourceID, status)
}

// SetupVen runs registration and, when upload is set, the historical upload
// for one VEN in order.
func (p *Pipeline) SetupVen(ctx context.Context, venID string, upload bool) (*SetupSummary, error) {
	if err := p.RegisterVen(ctx, venID); err != nil {
		return nil, err
	}

	pc := p.cfg.Pipeline
	reg, err := p.RegisterLoadsParallel(ctx, venID, pc.RegistrationBatchSize, pc.RegistrationBatchDelay)
	if err != nil {
		return &SetupSummary{Registration: reg}, err
	}

	summary := &SetupSummary{Registration: reg}
	if !upload {
		return summary, nil
	}

	summary.Upload, err = p.BulkUploadHistorical(ctx, venID, pc.UploadChunkSize, pc.UploadBatchSize, pc.UploadLimitLoads)
	return summary, err
}

// CheckStatus logs the session and simulation state
func (p *Pipeline) CheckStatus(ctx context.Context) error {
	vens := p.RegisteredVens()
	p.logger.Info("status check", zap.Int("registered_vens", len(vens)))

	stats, err := p.engine.Statistics()
	if err != nil {
		return err
	}

	p.logger.Info("simulation status",
		zap.Int("current_index", stats.CurrentIndex),
		zap.Int("reading_length", stats.ReadingLength),
		zap.Int("vens", stats.TotalVens),
		zap.Int("approved", stats.TotalByStatus[db.StatusApproved]),
		zap.Int("pending", stats.TotalByStatus[db.StatusPending]),
		zap.Int("suspended", stats.TotalByStatus[db.StatusSuspended]),
	)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
