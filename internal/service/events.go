package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/septivank/ven-fleet-simulator/internal/logging"
	"github.com/septivank/ven-fleet-simulator/internal/simulation"
	"github.com/septivank/ven-fleet-simulator/internal/vtn"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DeviceClass groups resources that answer events the same way
type DeviceClass string

const (
	DeviceBattery DeviceClass = "battery_storage"
	DeviceSolar   DeviceClass = "solar_panel"
	DeviceHVAC    DeviceClass = "hvac_system"
	DeviceOther   DeviceClass = "other"
)

// ResponseWeights are the relative odds of opting in, opting out and not participating
type ResponseWeights struct {
	OptIn            int
	OptOut           int
	NotParticipating int
}

// DefaultResponseWeights holds the answer odds per device class
var DefaultResponseWeights = map[DeviceClass]ResponseWeights{
	DeviceBattery: {OptIn: 70, OptOut: 20, NotParticipating: 10},
	DeviceSolar:   {OptIn: 50, OptOut: 40, NotParticipating: 10},
	DeviceHVAC:    {OptIn: 60, OptOut: 30, NotParticipating: 10},
	DeviceOther:   {OptIn: 50, OptOut: 35, NotParticipating: 15},
}

// ClassifyResource maps a catalog resource type and sub type to a device class
func ClassifyResource(resourceType, subType string) DeviceClass {
	s := strings.ToLower(resourceType + " " + subType)
	switch {
	case strings.Contains(s, "battery"):
		return DeviceBattery
	case strings.Contains(s, "solar"), strings.Contains(s, "pv"):
		return DeviceSolar
	case strings.Contains(s, "hvac"), strings.Contains(s, "heat"):
		return DeviceHVAC
	}
	return DeviceOther
}

// ResponsePolicy draws weighted event answers. Safe for concurrent use.
type ResponsePolicy struct {
	mu      sync.Mutex
	rng     *rand.Rand
	weights map[DeviceClass]ResponseWeights
}

// NewResponsePolicy creates a policy; a nil rng is seeded from the clock
func NewResponsePolicy(rng *rand.Rand, weights map[DeviceClass]ResponseWeights) *ResponsePolicy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if weights == nil {
		weights = DefaultResponseWeights
	}
	return &ResponsePolicy{rng: rng, weights: weights}
}

// Decide picks the answer of a device class to an event
func (p *ResponsePolicy) Decide(class DeviceClass) vtn.ResponseType {
	w, ok := p.weights[class]
	if !ok {
		w = p.weights[DeviceOther]
	}
	total := w.OptIn + w.OptOut + w.NotParticipating
	if total <= 0 {
		return vtn.ResponseNotParticipating
	}

	p.mu.Lock()
	n := p.rng.Intn(total)
	p.mu.Unlock()

	switch {
	case n < w.OptIn:
		return vtn.ResponseOptIn
	case n < w.OptIn+w.OptOut:
		return vtn.ResponseOptOut
	default:
		return vtn.ResponseNotParticipating
	}
}

// SessionSource lists registered VENs and their credentials
type SessionSource interface {
	RegisteredVens() []string
	Session(venID string) (VenSession, bool)
}

// EventSummary counts the work of one polling round
type EventSummary struct {
	Vens      int
	Events    int
	Responded int
	Failed    int
}

// EventResponder polls the VTN for demand response events on behalf of every
// registered VEN and answers each new event revision once.
type EventResponder struct {
	client   *vtn.Client
	sessions SessionSource
	engine   *simulation.Engine
	policy   *ResponsePolicy
	logger   *zap.Logger

	mu       sync.Mutex
	answered map[string]map[string]int
}

// NewEventResponder creates an event responder. client should not be shared
// with the registration and reporting pipeline.
func NewEventResponder(client *vtn.Client, sessions SessionSource, engine *simulation.Engine, policy *ResponsePolicy, logger *zap.Logger) *EventResponder {
	return &EventResponder{
		client:   client,
		sessions: sessions,
		engine:   engine,
		policy:   policy,
		logger:   logger,
		answered: make(map[string]map[string]int),
	}
}

// DeviceClass returns the most common device class among the resources of a VEN
func (r *EventResponder) DeviceClass(venID string) DeviceClass {
	resources, err := r.engine.GetVenResources(venID, nil)
	if err != nil || len(resources) == 0 {
		return DeviceOther
	}

	counts := map[DeviceClass]int{}
	for _, res := range resources {
		counts[ClassifyResource(res.Type, res.SubType)]++
	}

	classes := make([]DeviceClass, 0, len(counts))
	for class := range counts {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		if counts[classes[i]] != counts[classes[j]] {
			return counts[classes[i]] > counts[classes[j]]
		}
		return classes[i] < classes[j]
	})
	return classes[0]
}

// PollAndRespond runs one polling round for all registered VENs concurrently.
// A failing VEN does not stop the others; their errors are joined.
func (r *EventResponder) PollAndRespond(ctx context.Context) (*EventSummary, error) {
	vens := r.sessions.RegisteredVens()
	summary := &EventSummary{Vens: len(vens)}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, venID := range vens {
		venID := venID
		g.Go(func() error {
			events, responded, failed, err := r.pollVen(ctx, venID)
			mu.Lock()
			defer mu.Unlock()
			summary.Events += events
			summary.Responded += responded
			summary.Failed += failed
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary.Events > 0 {
		r.logger.Info("event polling round finished",
			zap.Int("vens", summary.Vens),
			zap.Int("events", summary.Events),
			zap.Int("responded", summary.Responded),
			zap.Int("failed", summary.Failed),
		)
	}
	return summary, errors.Join(errs...)
}

func (r *EventResponder) pollVen(ctx context.Context, venID string) (events, responded, failed int, err error) {
	session, ok := r.sessions.Session(venID)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrVenNotFound, venID)
	}
	venLogger := logging.WithVen(r.logger, venID)

	polled, err := r.client.PollEvents(ctx, session.AuthToken)
	if err != nil {
		venLogger.Error("event polling failed", zap.Error(err))
		return 0, 0, 0, fmt.Errorf("ven %s: %w", venID, err)
	}

	class := r.DeviceClass(venID)
	var errs []error
	for _, event := range polled {
		if !r.isNew(venID, event) {
			continue
		}
		events++
		venLogger.Info("new event received",
			zap.String("event_id", event.ID),
			zap.String("event_name", event.EventName),
			zap.Int("modification_number", event.ModificationNumber),
		)

		answer := r.policy.Decide(class)
		if err := r.client.RespondToEvent(ctx, session.AuthToken, event.ID, answer); err != nil {
			failed++
			errs = append(errs, fmt.Errorf("ven %s: %w", venID, err))
			venLogger.Error("event response failed", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		r.markAnswered(venID, event)
		responded++
		venLogger.Info("event answered",
			zap.String("event_id", event.ID),
			zap.String("device_class", string(class)),
			zap.String("response", string(answer)),
		)
	}
	return events, responded, failed, errors.Join(errs...)
}

func (r *EventResponder) isNew(venID string, event vtn.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, seen := r.answered[venID][event.ID]
	return !seen || event.ModificationNumber > mod
}

func (r *EventResponder) markAnswered(venID string, event vtn.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.answered[venID] == nil {
		r.answered[venID] = make(map[string]int)
	}
	r.answered[venID][event.ID] = event.ModificationNumber
}

var _ SessionSource = (*Pipeline)(nil)
