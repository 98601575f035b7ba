package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/anomaly"
	"github.com/congregio/checkin-engine/internal/certificates"
	"github.com/congregio/checkin-engine/internal/checkin"
	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/consent"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/database/mock"
	"github.com/congregio/checkin-engine/internal/descriptors"
	"github.com/congregio/checkin-engine/internal/match"
	"github.com/congregio/checkin-engine/internal/sessions"
)

const testDim = 128

// testEngine wires every component over in-memory stores, mirroring the
// production wiring in the serve command.
type testEngine struct {
	consent      *consent.Ledger
	descriptors  *descriptors.Store
	matcher      *match.Engine
	sessions     *sessions.Manager
	machine      *checkin.StateMachine
	detector     *anomaly.Detector
	certificates *certificates.Issuer

	descriptorStore *mock.DescriptorStore
	checkInStore    *mock.CheckInStore
	anomalyStore    *mock.AnomalyStore
	matchingConfig  config.MatchingConfig
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	descriptorStore := mock.NewDescriptorStore()
	consentStore := mock.NewConsentStore()
	sessionStore := mock.NewSessionStore()
	checkInStore := mock.NewCheckInStore()
	anomalyStore := mock.NewAnomalyStore()
	certificateStore := mock.NewCertificateStore()

	matching := config.MatchingConfig{
		SimilarityThreshold: 0.6,
		SpoofingThreshold:   0.85,
		MinQuality:          0.5,
		DescriptorDim:       testDim,
		MatchTimeout:        5 * time.Second,
	}

	ledger := consent.NewLedger(consentStore, config.ConsentConfig{CacheTTL: time.Second})
	mgr := sessions.NewManager(sessionStore)
	detector := anomaly.NewDetector(anomalyStore, checkInStore, sessionStore,
		config.AnomalyConfig{LocationDistanceKm: 50, LocationWindow: 2 * time.Hour})

	return &testEngine{
		consent:      ledger,
		descriptors:  descriptors.NewStore(descriptorStore, ledger, nil, matching),
		matcher:      match.NewEngine(descriptorStore, ledger, nil, matching),
		sessions:     mgr,
		machine:      checkin.NewStateMachine(checkInStore, mgr, detector, config.CheckInConfig{RapidWindow: 30 * time.Second}, matching),
		detector:     detector,
		certificates: certificates.NewIssuer(certificateStore, checkInStore, sessionStore),

		descriptorStore: descriptorStore,
		checkInStore:    checkInStore,
		anomalyStore:    anomalyStore,
		matchingConfig:  matching,
	}
}

// activeSession creates and activates a session, returning its id.
func (e *testEngine) activeSession(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	s, err := e.sessions.Create(ctx, sessions.CreateRequest{Name: "Sunday Service", Kind: database.SessionWorship})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if _, err := e.sessions.Start(ctx, s.ID); err != nil {
		t.Fatalf("starting session: %v", err)
	}
	return s.ID
}

// enrollOwner grants biometric consent and enrolls one descriptor,
// returning its id.
func (e *testEngine) enrollOwner(t *testing.T, ownerID string, vector []float32) string {
	t.Helper()
	ctx := context.Background()
	if _, err := e.consent.Grant(ctx, ownerID, database.ConsentBiometric, "v1", consent.RequestContext{}); err != nil {
		t.Fatalf("granting consent: %v", err)
	}
	d, err := e.descriptors.Enroll(ctx, descriptors.EnrollRequest{OwnerID: ownerID, Vector: vector, Quality: 0.9})
	if err != nil {
		t.Fatalf("enrolling descriptor: %v", err)
	}
	return d.ID
}

// recordRequest builds a verified-match record request for an owner.
func recordRequest(sessionID, ownerID string) checkin.RecordRequest {
	return checkin.RecordRequest{
		SessionID: sessionID,
		Match:     match.Result{OwnerID: ownerID, DescriptorID: "d-" + ownerID, Confidence: 0.92},
		Method:    database.MethodFacial,
	}
}

// visitorRequest builds a no-match record request.
func visitorRequest(sessionID string) checkin.RecordRequest {
	return checkin.RecordRequest{
		SessionID: sessionID,
		Match:     match.Result{},
		Method:    database.MethodFacial,
	}
}

// unitVector builds a descriptor vector with one hot dimension.
func unitVector(hot int) []float32 {
	v := make([]float32, testDim)
	v[hot%testDim] = 1.0
	return v
}

// jsonRequest creates a request carrying a JSON-encoded body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message.
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
