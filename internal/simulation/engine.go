package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/readings"
	"github.com/septivank/ven-fleet-simulator/internal/repository"
	"github.com/septivank/ven-fleet-simulator/tools/timeparser"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized     = errors.New("simulation engine not initialized")
	ErrAlreadyInitialized = errors.New("simulation engine already initialized")
	ErrVenNotFound        = errors.New("ven not found in simulation")
	ErrResourceNotFound   = errors.New("resource not found in simulation")
	ErrEmptySource        = errors.New("reading source has no samples")
)

// MeterReading is one channel value at the current cursor
type MeterReading struct {
	TimestampMS   int64
	LoadComponent string
	PowerW        float64
}

// ResourceMeterData holds the readings of one resource at the current cursor
type ResourceMeterData struct {
	ResourceID string
	MeterID    string
	Readings   []MeterReading
}

// CursorStore persists the time cursor across restarts
type CursorStore interface {
	Load(ctx context.Context) (int, bool, error)
	Save(ctx context.Context, index int) error
}

// Option configures an Engine
type Option func(*Engine)

// WithRand sets the random source used for meter assignment
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = rng
	}
}

// WithCheckpoint enables cursor persistence
func WithCheckpoint(store CursorStore) Option {
	return func(e *Engine) {
		e.checkpoint = store
	}
}

type venBuckets map[db.Status]map[string]db.Resource

// Engine assigns recorded meters to resources, owns the global time cursor
// and produces per-VEN snapshots. All methods are safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	catalog    repository.Catalog
	source     readings.Source
	logger     *zap.Logger
	rng        *rand.Rand
	checkpoint CursorStore

	initialized   bool
	buckets       map[string]venBuckets
	meters        map[string]string
	meterPool     []string
	currentIndex  int
	readingLength int
}

// New creates an uninitialized engine
func New(catalog repository.Catalog, source readings.Source, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		source:  source,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e.resetLocked()
	return e
}

// InitializeResources loads the resources of the given VENs (all VENs when
// empty) into status buckets and assigns meters to APPROVED resources.
func (e *Engine) InitializeResources(ctx context.Context, vens []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return ErrAlreadyInitialized
	}

	length := e.source.Length()
	if length <= 0 {
		return ErrEmptySource
	}

	if len(vens) == 0 {
		all, err := e.catalog.ListVens(ctx)
		if err != nil {
			return fmt.Errorf("failed to list vens: %w", err)
		}
		vens = all
	}

	e.meterPool = e.source.Meters()
	if len(e.meterPool) == 0 {
		e.logger.Warn("reading source has no meters, approved resources will produce no readings")
	}

	buckets := make(map[string]venBuckets, len(vens))
	for _, ven := range vens {
		resources, err := e.catalog.ListByVen(ctx, ven)
		if err != nil {
			return fmt.Errorf("failed to load resources for ven %s: %w", ven, err)
		}

		vb := newVenBuckets()
		for _, res := range resources {
			vb[res.RegistrationStatus][res.ResourceID] = res
		}
		buckets[ven] = vb

		e.logger.Info("loaded ven resources",
			zap.String("ven_id", ven),
			zap.Int("pending", len(vb[db.StatusPending])),
			zap.Int("approved", len(vb[db.StatusApproved])),
			zap.Int("suspended", len(vb[db.StatusSuspended])),
		)
	}

	e.buckets = buckets
	e.readingLength = length
	e.currentIndex = 0
	e.initialized = true

	for ven, vb := range buckets {
		for id, res := range vb[db.StatusApproved] {
			e.ensureMeterLocked(ctx, ven, id, res.AssignedMeterID)
		}
	}

	if e.checkpoint != nil {
		idx, ok, err := e.checkpoint.Load(ctx)
		switch {
		case err != nil:
			e.logger.Warn("failed to restore time cursor", zap.Error(err))
		case ok:
			e.currentIndex = ((idx % length) + length) % length
			e.logger.Info("restored time cursor", zap.Int("index", e.currentIndex))
		}
	}

	e.logger.Info("simulation engine initialized",
		zap.Int("vens", len(buckets)),
		zap.Int("meters", len(e.meterPool)),
		zap.Int("reading_length", length),
	)

	return nil
}

// GetVenResources returns the resources of a VEN, optionally filtered by status
func (e *Engine) GetVenResources(venID string, status *db.Status) (map[string]db.Resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vb, err := e.venLocked(venID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]db.Resource)
	for _, s := range db.Statuses {
		if status != nil && *status != s {
			continue
		}
		for id, res := range vb[s] {
			out[id] = res
		}
	}
	return out, nil
}

// UpdateResourceStatus moves a resource between status buckets and persists
// the new status. The in-memory move is undone if persisting fails.
func (e *Engine) UpdateResourceStatus(ctx context.Context, venID, resourceID string, newStatus db.Status) error {
	if !newStatus.Valid() {
		return fmt.Errorf("invalid registration status %q", newStatus)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vb, err := e.venLocked(venID)
	if err != nil {
		return err
	}

	var (
		res     db.Resource
		current db.Status
		found   bool
	)
	for _, s := range db.Statuses {
		if r, ok := vb[s][resourceID]; ok {
			res, current, found = r, s, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s in ven %s", ErrResourceNotFound, resourceID, venID)
	}

	delete(vb[current], resourceID)
	res.RegistrationStatus = newStatus
	vb[newStatus][resourceID] = res

	if err := e.catalog.UpdateStatus(ctx, resourceID, newStatus); err != nil {
		delete(vb[newStatus], resourceID)
		res.RegistrationStatus = current
		vb[current][resourceID] = res
		return fmt.Errorf("failed to persist status of %s: %w", resourceID, err)
	}

	if newStatus == db.StatusApproved {
		e.ensureMeterLocked(ctx, venID, resourceID, res.AssignedMeterID)
	}

	e.logger.Info("resource status changed",
		zap.String("ven_id", venID),
		zap.String("resource_id", resourceID),
		zap.String("from", string(current)),
		zap.String("to", string(newStatus)),
	)

	return nil
}

// IncreaseTime advances the global cursor by one, wrapping at the reading length
func (e *Engine) IncreaseTime(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return 0, ErrNotInitialized
	}

	e.currentIndex = (e.currentIndex + 1) % e.readingLength

	if e.checkpoint != nil {
		if err := e.checkpoint.Save(ctx, e.currentIndex); err != nil {
			e.logger.Warn("failed to save time cursor", zap.Int("index", e.currentIndex), zap.Error(err))
		}
	}

	return e.currentIndex, nil
}

// CollectNextMetering reads the current sample of every channel of every
// APPROVED resource in the VEN. It does not move the cursor.
func (e *Engine) CollectNextMetering(venID string) (map[string]ResourceMeterData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vb, err := e.venLocked(venID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]ResourceMeterData, len(vb[db.StatusApproved]))
	for id := range vb[db.StatusApproved] {
		meterID, ok := e.meters[id]
		if !ok {
			e.logger.Debug("skipping resource without meter", zap.String("ven_id", venID), zap.String("resource_id", id))
			continue
		}
		components, ok := e.source.LoadComponents(meterID)
		if !ok {
			e.logger.Warn("assigned meter missing from reading source",
				zap.String("ven_id", venID),
				zap.String("resource_id", id),
				zap.String("meter_id", meterID),
			)
			continue
		}

		data := ResourceMeterData{
			ResourceID: id,
			MeterID:    meterID,
			Readings:   make([]MeterReading, 0, len(components)),
		}
		for _, component := range components {
			sample, err := e.source.Sample(meterID, component, e.currentIndex)
			if err != nil {
				e.logger.Warn("failed to read sample",
					zap.String("meter_id", meterID),
					zap.String("load_component", component),
					zap.Error(err),
				)
				continue
			}
			data.Readings = append(data.Readings, MeterReading{
				TimestampMS:   timeparser.SecondsToMillis(sample.TimestampS),
				LoadComponent: component,
				PowerW:        sample.PowerW,
			})
		}
		out[id] = data
	}

	return out, nil
}

// CurrentIndex returns the global cursor
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentIndex
}

// ReadingLength returns the number of samples per channel
func (e *Engine) ReadingLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readingLength
}

// Vens returns the loaded VEN ids in sorted order
func (e *Engine) Vens() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	vens := make([]string, 0, len(e.buckets))
	for ven := range e.buckets {
		vens = append(vens, ven)
	}
	sort.Strings(vens)
	return vens
}

// AssignedMeter returns the meter currently backing a resource
func (e *Engine) AssignedMeter(resourceID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	meterID, ok := e.meters[resourceID]
	return meterID, ok
}

// Initialized reports whether InitializeResources has completed
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Reset discards all simulation state so the engine can be initialized again
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.initialized = false
	e.buckets = make(map[string]venBuckets)
	e.meters = make(map[string]string)
	e.meterPool = nil
	e.currentIndex = 0
	e.readingLength = 0
}

func (e *Engine) venLocked(venID string) (venBuckets, error) {
	if !e.initialized {
		return nil, ErrNotInitialized
	}
	vb, ok := e.buckets[venID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVenNotFound, venID)
	}
	return vb, nil
}

// ensureMeterLocked keeps a persisted assignment that still exists in the
// source, otherwise draws a meter uniformly at random from the pool.
func (e *Engine) ensureMeterLocked(ctx context.Context, venID, resourceID string, persisted *string) {
	if _, ok := e.meters[resourceID]; ok {
		return
	}
	if persisted != nil {
		if _, ok := e.source.LoadComponents(*persisted); ok {
			e.meters[resourceID] = *persisted
			return
		}
	}
	if len(e.meterPool) == 0 {
		return
	}

	meterID := e.meterPool[e.rng.Intn(len(e.meterPool))]
	e.meters[resourceID] = meterID

	if err := e.catalog.AssignMeter(ctx, resourceID, meterID); err != nil {
		e.logger.Warn("failed to persist meter assignment",
			zap.String("ven_id", venID),
			zap.String("resource_id", resourceID),
			zap.String("meter_id", meterID),
			zap.Error(err),
		)
	}
}

func newVenBuckets() venBuckets {
	vb := make(venBuckets, len(db.Statuses))
	for _, s := range db.Statuses {
		vb[s] = make(map[string]db.Resource)
	}
	return vb
}
