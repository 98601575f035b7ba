package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/database/mock"
)

func TestCreate_StartsScheduled(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())

	s, err := mgr.Create(context.Background(), CreateRequest{
		Name: "Sunday Service",
		Kind: database.SessionWorship,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status != database.SessionScheduled {
		t.Errorf("expected scheduled status, got %s", s.Status)
	}
	if s.ID == "" {
		t.Error("expected a generated session id")
	}
	if s.StartsAt.IsZero() {
		t.Error("expected StartsAt to default to now")
	}
}

func TestCreate_RejectsUnknownKind(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())

	_, err := mgr.Create(context.Background(), CreateRequest{Name: "x", Kind: database.SessionKind("party")})
	if err == nil {
		t.Error("expected error for unknown session kind")
	}
}

func TestCreate_OnlineKindImpliesOnline(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())

	s, err := mgr.Create(context.Background(), CreateRequest{Name: "Stream", Kind: database.SessionOnline})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Online {
		t.Error("expected online kind to imply Online=true")
	}
}

func TestGet_UnknownSession(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())

	_, err := mgr.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_ActivatesScheduledSession(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())
	ctx := context.Background()
	s, _ := mgr.Create(ctx, CreateRequest{Name: "x", Kind: database.SessionWorship})

	started, err := mgr.Start(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started.Status != database.SessionActive {
		t.Errorf("expected active status, got %s", started.Status)
	}
}

func TestEnd_StampsEndTime(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())
	ctx := context.Background()
	s, _ := mgr.Create(ctx, CreateRequest{Name: "x", Kind: database.SessionWorship})
	mgr.Start(ctx, s.ID)

	ended, err := mgr.End(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ended.Status != database.SessionCompleted {
		t.Errorf("expected completed status, got %s", ended.Status)
	}
	if ended.EndsAt == nil {
		t.Error("expected EndsAt to be stamped")
	}
}

func TestTransitions_IllegalMovesRejected(t *testing.T) {
	tests := []struct {
		name string
		prep func(ctx context.Context, mgr *Manager, id string)
		step func(ctx context.Context, mgr *Manager, id string) error
	}{
		{
			name: "EndScheduledSession",
			prep: func(ctx context.Context, mgr *Manager, id string) {},
			step: func(ctx context.Context, mgr *Manager, id string) error {
				_, err := mgr.End(ctx, id)
				return err
			},
		},
		{
			name: "StartActiveSession",
			prep: func(ctx context.Context, mgr *Manager, id string) { mgr.Start(ctx, id) },
			step: func(ctx context.Context, mgr *Manager, id string) error {
				_, err := mgr.Start(ctx, id)
				return err
			},
		},
		{
			name: "StartCompletedSession",
			prep: func(ctx context.Context, mgr *Manager, id string) {
				mgr.Start(ctx, id)
				mgr.End(ctx, id)
			},
			step: func(ctx context.Context, mgr *Manager, id string) error {
				_, err := mgr.Start(ctx, id)
				return err
			},
		},
		{
			name: "CancelCompletedSession",
			prep: func(ctx context.Context, mgr *Manager, id string) {
				mgr.Start(ctx, id)
				mgr.End(ctx, id)
			},
			step: func(ctx context.Context, mgr *Manager, id string) error {
				_, err := mgr.Cancel(ctx, id)
				return err
			},
		},
		{
			name: "CancelCancelledSession",
			prep: func(ctx context.Context, mgr *Manager, id string) { mgr.Cancel(ctx, id) },
			step: func(ctx context.Context, mgr *Manager, id string) error {
				_, err := mgr.Cancel(ctx, id)
				return err
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mgr := NewManager(mock.NewSessionStore())
			ctx := context.Background()
			s, _ := mgr.Create(ctx, CreateRequest{Name: "x", Kind: database.SessionWorship})
			tc.prep(ctx, mgr, s.ID)

			if err := tc.step(ctx, mgr, s.ID); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestCancel_FromScheduledAndActive(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())
	ctx := context.Background()

	scheduled, _ := mgr.Create(ctx, CreateRequest{Name: "a", Kind: database.SessionWorship})
	if _, err := mgr.Cancel(ctx, scheduled.ID); err != nil {
		t.Errorf("cancelling scheduled session: %v", err)
	}

	active, _ := mgr.Create(ctx, CreateRequest{Name: "b", Kind: database.SessionWorship})
	mgr.Start(ctx, active.ID)
	if _, err := mgr.Cancel(ctx, active.ID); err != nil {
		t.Errorf("cancelling active session: %v", err)
	}
}

func TestListActive_ExcludesOtherStatuses(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())
	ctx := context.Background()

	mgr.Create(ctx, CreateRequest{Name: "scheduled", Kind: database.SessionWorship})
	active, _ := mgr.Create(ctx, CreateRequest{Name: "active", Kind: database.SessionWorship})
	mgr.Start(ctx, active.ID)
	done, _ := mgr.Create(ctx, CreateRequest{Name: "done", Kind: database.SessionWorship})
	mgr.Start(ctx, done.ID)
	mgr.End(ctx, done.ID)

	list, err := mgr.ListActive(ctx, false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(list))
	}
	if list[0].ID != active.ID {
		t.Errorf("expected session %s, got %s", active.ID, list[0].ID)
	}
}

func TestListActive_OnlineFilter(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())
	ctx := context.Background()

	onsite, _ := mgr.Create(ctx, CreateRequest{Name: "onsite", Kind: database.SessionWorship})
	mgr.Start(ctx, onsite.ID)
	online, _ := mgr.Create(ctx, CreateRequest{Name: "online", Kind: database.SessionOnline, StartsAt: time.Now().Add(time.Minute)})
	mgr.Start(ctx, online.ID)

	list, err := mgr.ListActive(ctx, true, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].ID != online.ID {
		t.Errorf("expected only the online session, got %d sessions", len(list))
	}
}

func TestAccepting_OnlyActiveSessions(t *testing.T) {
	mgr := NewManager(mock.NewSessionStore())
	ctx := context.Background()
	s, _ := mgr.Create(ctx, CreateRequest{Name: "x", Kind: database.SessionWorship})

	if ok, _ := mgr.Accepting(ctx, s.ID); ok {
		t.Error("scheduled session must not accept check-ins")
	}

	mgr.Start(ctx, s.ID)
	if ok, _ := mgr.Accepting(ctx, s.ID); !ok {
		t.Error("active session must accept check-ins")
	}

	mgr.End(ctx, s.ID)
	if ok, _ := mgr.Accepting(ctx, s.ID); ok {
		t.Error("completed session must not accept check-ins")
	}
}
