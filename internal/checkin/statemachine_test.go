package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/congregio/checkin-engine/internal/anomaly"
	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/database/mock"
	"github.com/congregio/checkin-engine/internal/match"
	"github.com/congregio/checkin-engine/internal/sessions"
)

type testHarness struct {
	machine   *StateMachine
	checkins  *mock.CheckInStore
	sessions  *sessions.Manager
	anomalies *mock.AnomalyStore
	sessionID string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	checkins := mock.NewCheckInStore()
	sessionStore := mock.NewSessionStore()
	anomalies := mock.NewAnomalyStore()
	mgr := sessions.NewManager(sessionStore)
	detector := anomaly.NewDetector(anomalies, checkins, sessionStore,
		config.AnomalyConfig{LocationDistanceKm: 50, LocationWindow: 2 * time.Hour})

	machine := NewStateMachine(checkins, mgr, detector,
		config.CheckInConfig{RapidWindow: 30 * time.Second},
		config.MatchingConfig{SimilarityThreshold: 0.6})

	ctx := context.Background()
	s, err := mgr.Create(ctx, sessions.CreateRequest{Name: "Sunday Service", Kind: database.SessionWorship})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if _, err := mgr.Start(ctx, s.ID); err != nil {
		t.Fatalf("starting session: %v", err)
	}

	return &testHarness{
		machine:   machine,
		checkins:  checkins,
		sessions:  mgr,
		anomalies: anomalies,
		sessionID: s.ID,
	}
}

func verifiedMatch(ownerID string) match.Result {
	return match.Result{OwnerID: ownerID, DescriptorID: "d-" + ownerID, Confidence: 0.92}
}

func TestRecord_VerifiedCheckIn(t *testing.T) {
	h := newTestHarness(t)

	c, err := h.machine.Record(context.Background(), RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != database.StatusVerified {
		t.Errorf("expected verified status, got %s", c.Status)
	}
	if c.OwnerID != "owner-1" {
		t.Errorf("expected owner-1, got %s", c.OwnerID)
	}
	if c.Reason != "" {
		t.Errorf("expected empty reason for verified check-in, got %q", c.Reason)
	}
}

func TestRecord_VisitorIsPending(t *testing.T) {
	h := newTestHarness(t)

	c, err := h.machine.Record(context.Background(), RecordRequest{
		SessionID: h.sessionID,
		Match:     match.Result{},
		Method:    database.MethodFacial,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != database.StatusPending {
		t.Errorf("expected pending status for visitor, got %s", c.Status)
	}
	if c.OwnerID != "" {
		t.Errorf("expected empty owner for visitor, got %s", c.OwnerID)
	}
}

func TestRecord_SpoofSuspectedIsSuspicious(t *testing.T) {
	h := newTestHarness(t)

	m := verifiedMatch("owner-1")
	m.SpoofSuspected = true
	c, err := h.machine.Record(context.Background(), RecordRequest{
		SessionID: h.sessionID,
		Match:     m,
		Method:    database.MethodFacial,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != database.StatusSuspicious {
		t.Errorf("expected suspicious status for spoof-suspected match, got %s", c.Status)
	}

	reports, _ := h.anomalies.List(context.Background(), database.AnomalyFilter{Kind: database.AnomalySpoofingAttempt})
	if len(reports) != 1 {
		t.Errorf("expected 1 spoofing report, got %d", len(reports))
	}
}

func TestRecord_LowConfidenceIsSuspicious(t *testing.T) {
	h := newTestHarness(t)

	c, err := h.machine.Record(context.Background(), RecordRequest{
		SessionID: h.sessionID,
		Match:     match.Result{OwnerID: "owner-1", DescriptorID: "d1", Confidence: 0.45},
		Method:    database.MethodFacial,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != database.StatusSuspicious {
		t.Errorf("expected suspicious status for low confidence, got %s", c.Status)
	}
}

func TestRecord_UnknownMethodRejected(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.machine.Record(context.Background(), RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.CheckInMethod("nfc"),
	})
	if err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestRecord_SessionNotAccepting(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	if _, err := h.sessions.End(ctx, h.sessionID); err != nil {
		t.Fatalf("ending session: %v", err)
	}

	_, err := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})
	if !errors.Is(err, ErrSessionNotAccepting) {
		t.Errorf("expected ErrSessionNotAccepting, got %v", err)
	}
}

func TestRecord_UnknownSession(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.machine.Record(context.Background(), RecordRequest{
		SessionID: "missing",
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})
	if !errors.Is(err, sessions.ErrNotFound) {
		t.Errorf("expected sessions.ErrNotFound, got %v", err)
	}
}

func TestRecord_DuplicateRejected(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	}); err != nil {
		t.Fatalf("first check-in failed: %v", err)
	}

	_, err := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})
	if !errors.Is(err, ErrDuplicateCheckIn) {
		t.Errorf("expected ErrDuplicateCheckIn, got %v", err)
	}
}

func TestRecord_RapidRepeatRaisesReport(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})
	h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})

	reports, _ := h.anomalies.List(ctx, database.AnomalyFilter{Kind: database.AnomalyRapidSuccession})
	if len(reports) != 1 {
		t.Errorf("expected 1 rapid-succession report, got %d", len(reports))
	}
}

func TestRecord_DuplicateAfterCheckOutAllowed(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	first, err := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})
	if err != nil {
		t.Fatalf("first check-in failed: %v", err)
	}
	if _, err := h.machine.CheckOut(ctx, first.ID); err != nil {
		t.Fatalf("check-out failed: %v", err)
	}

	if _, err := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	}); err != nil {
		t.Errorf("expected re-entry after check-out to succeed, got %v", err)
	}
}

func TestRecord_ConcurrentAttemptsOneWinner(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.machine.Record(ctx, RecordRequest{
				SessionID: h.sessionID,
				Match:     verifiedMatch("owner-1"),
				Method:    database.MethodFacial,
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrDuplicateCheckIn) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 winning attempt, got %d", wins)
	}
}

func TestRecord_IdempotentReplayReturnsOriginal(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	first, err := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		RequestID: "req-42",
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})
	if err != nil {
		t.Fatalf("first check-in failed: %v", err)
	}

	replay, err := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		RequestID: "req-42",
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay.ID != first.ID {
		t.Errorf("expected replay to return original check-in %s, got %s", first.ID, replay.ID)
	}
}

func TestRecordTimeout_RejectedWithReason(t *testing.T) {
	h := newTestHarness(t)

	c, err := h.machine.RecordTimeout(context.Background(), h.sessionID, "req-1", database.MethodFacial, "kiosk-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != database.StatusRejected {
		t.Errorf("expected rejected status, got %s", c.Status)
	}
	if c.Reason == "" {
		t.Error("expected a reason on timed-out check-in")
	}
	if c.OwnerID != "" {
		t.Errorf("expected no owner attribution on timeout, got %s", c.OwnerID)
	}
}

func TestCheckOut_Idempotent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	c, _ := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})

	first, err := h.machine.CheckOut(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.CheckedOutAt == nil {
		t.Fatal("expected check-out time to be set")
	}

	second, err := h.machine.CheckOut(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.CheckedOutAt.Equal(*first.CheckedOutAt) {
		t.Error("expected repeated check-out to keep the original timestamp")
	}
}

func TestCheckOut_UnknownCheckIn(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.machine.CheckOut(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReview_ApprovePendingCheckIn(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	c, _ := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     match.Result{},
		Method:    database.MethodManual,
	})

	reviewed, err := h.machine.Review(ctx, c.ID, "admin-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reviewed.Status != database.StatusVerified {
		t.Errorf("expected verified after approval, got %s", reviewed.Status)
	}
}

func TestReview_RejectSuspiciousCheckIn(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	c, _ := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     match.Result{OwnerID: "owner-1", Confidence: 0.3},
		Method:    database.MethodFacial,
	})

	reviewed, err := h.machine.Review(ctx, c.ID, "admin-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reviewed.Status != database.StatusRejected {
		t.Errorf("expected rejected after denial, got %s", reviewed.Status)
	}
}

func TestReview_VerifiedNotReviewable(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	c, _ := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     verifiedMatch("owner-1"),
		Method:    database.MethodFacial,
	})

	_, err := h.machine.Review(ctx, c.ID, "admin-1", true)
	if !errors.Is(err, ErrNotReviewable) {
		t.Errorf("expected ErrNotReviewable, got %v", err)
	}
}

func TestReview_LowConfidenceOverrideLeavesReport(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	c, _ := h.machine.Record(ctx, RecordRequest{
		SessionID: h.sessionID,
		Match:     match.Result{OwnerID: "owner-1", Confidence: 0.4},
		Method:    database.MethodFacial,
	})

	if _, err := h.machine.Review(ctx, c.ID, "admin-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reports, _ := h.anomalies.List(ctx, database.AnomalyFilter{Kind: database.AnomalyLowConfidence})
	if len(reports) != 1 {
		t.Errorf("expected 1 low-confidence report for the override, got %d", len(reports))
	}
}
