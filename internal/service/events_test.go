package service_test

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/septivank/ven-fleet-simulator/internal/service"
	"github.com/septivank/ven-fleet-simulator/internal/vtn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// eventVTN serves GET /events and records POST /events/{id}/responses
type eventVTN struct {
	mu        sync.Mutex
	events    []vtn.Event
	failFor   map[string]bool
	responses []vtn.EventResponse
	tokens    []string
}

func (e *eventVTN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/events":
		e.tokens = append(e.tokens, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(e.events)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/responses"):
		var body vtn.EventResponse
		_ = json.NewDecoder(r.Body).Decode(&body)
		if e.failFor[body.EventID] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		e.responses = append(e.responses, body)
		w.WriteHeader(http.StatusCreated)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newEventResponder(t *testing.T, f *fixture, weights map[service.DeviceClass]service.ResponseWeights) (*service.EventResponder, *eventVTN) {
	t.Helper()
	fake := &eventVTN{failFor: map[string]bool{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := vtn.New(server.URL, vtn.StaticToken("service-token"), vtn.Options{}, zap.NewNop())
	policy := service.NewResponsePolicy(rand.New(rand.NewSource(1)), weights)
	return service.NewEventResponder(client, f.pipeline, f.engine, policy, zap.NewNop()), fake
}

func TestClassifyResource(t *testing.T) {
	tests := []struct {
		resourceType string
		subType      string
		want         service.DeviceClass
	}{
		{"BATTERY", "home_battery", service.DeviceBattery},
		{"Battery", "", service.DeviceBattery},
		{"GENERATOR", "solar_pv", service.DeviceSolar},
		{"LOAD", "heat_pump", service.DeviceHVAC},
		{"LOAD", "HVAC", service.DeviceHVAC},
		{"LOAD", "household", service.DeviceOther},
	}

	for _, tt := range tests {
		t.Run(tt.resourceType+"/"+tt.subType, func(t *testing.T) {
			assert.Equal(t, tt.want, service.ClassifyResource(tt.resourceType, tt.subType))
		})
	}
}

func TestResponsePolicyFollowsWeights(t *testing.T) {
	policy := service.NewResponsePolicy(rand.New(rand.NewSource(7)), map[service.DeviceClass]service.ResponseWeights{
		service.DeviceBattery: {OptIn: 1},
		service.DeviceSolar:   {OptOut: 1},
		service.DeviceOther:   {NotParticipating: 1},
	})

	for i := 0; i < 20; i++ {
		assert.Equal(t, vtn.ResponseOptIn, policy.Decide(service.DeviceBattery))
		assert.Equal(t, vtn.ResponseOptOut, policy.Decide(service.DeviceSolar))
		// unknown classes fall back to the default weights
		assert.Equal(t, vtn.ResponseNotParticipating, policy.Decide(service.DeviceHVAC))
	}
}

func TestResponsePolicyDefaultOdds(t *testing.T) {
	policy := service.NewResponsePolicy(rand.New(rand.NewSource(11)), nil)

	counts := map[vtn.ResponseType]int{}
	const draws = 10000
	for i := 0; i < draws; i++ {
		counts[policy.Decide(service.DeviceBattery)]++
	}

	assert.InDelta(t, 0.70, float64(counts[vtn.ResponseOptIn])/draws, 0.03)
	assert.InDelta(t, 0.20, float64(counts[vtn.ResponseOptOut])/draws, 0.03)
	assert.InDelta(t, 0.10, float64(counts[vtn.ResponseNotParticipating])/draws, 0.03)
}

func TestPollAndRespondAnswersEachRevisionOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.InitializeResources(ctx, []string{venID}))
	require.NoError(t, f.pipeline.RegisterVen(ctx, venID))

	responder, fake := newEventResponder(t, f, map[service.DeviceClass]service.ResponseWeights{
		service.DeviceOther: {OptIn: 1},
	})
	fake.events = []vtn.Event{
		{ID: "evt-1", EventName: "evening peak", ProgramID: "prog-1", ModificationNumber: 0},
		{ID: "evt-2", EventName: "morning peak", ProgramID: "prog-1", ModificationNumber: 0},
	}

	assert.Equal(t, service.DeviceOther, responder.DeviceClass(venID))

	summary, err := responder.PollAndRespond(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Vens)
	assert.Equal(t, 2, summary.Events)
	assert.Equal(t, 2, summary.Responded)
	require.Len(t, fake.responses, 2)
	for _, resp := range fake.responses {
		assert.Equal(t, vtn.ResponseOptIn, resp.ResponseType)
	}
	assert.Equal(t, "Bearer ven-token", fake.tokens[0])

	// unchanged events are not answered again
	summary, err = responder.PollAndRespond(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Events)
	assert.Len(t, fake.responses, 2)

	// a modified event is answered again
	fake.events[1].ModificationNumber = 1
	summary, err = responder.PollAndRespond(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Responded)
	require.Len(t, fake.responses, 3)
	assert.Equal(t, "evt-2", fake.responses[2].EventID)
}

func TestPollAndRespondRetriesFailedResponses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.InitializeResources(ctx, []string{venID}))
	require.NoError(t, f.pipeline.RegisterVen(ctx, venID))

	responder, fake := newEventResponder(t, f, nil)
	fake.events = []vtn.Event{{ID: "evt-1", EventName: "peak"}}
	fake.failFor["evt-1"] = true

	summary, err := responder.PollAndRespond(ctx)
	var statusErr *vtn.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, fake.responses)

	fake.failFor["evt-1"] = false
	summary, err = responder.PollAndRespond(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Responded)
	assert.Len(t, fake.responses, 1)
}

func TestPollAndRespondWithoutVens(t *testing.T) {
	f := newFixture(t)
	responder, fake := newEventResponder(t, f, nil)

	summary, err := responder.PollAndRespond(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Vens)
	assert.Empty(t, fake.tokens)
}
