package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"panicdispatch/request"
)

func pendingRequest(svcType request.ServiceType) request.Request {
	return request.Request{
		ID:          "req-1",
		GroupID:     "group-1",
		ServiceType: svcType,
		Status:      request.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestAllocateToTeam_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{req: pendingRequest(request.ServiceSecurity)}
	responders := &fakeResponders{activeTeams: map[string]bool{"team-1": true}}
	outbox := &fakeOutbox{}
	svc := NewService(pool, repo, responders, outbox)

	updated, err := svc.AllocateToTeam(context.Background(), "req-1", "team-1", "dispatcher-1")
	if err != nil {
		t.Fatalf("AllocateToTeam: %v", err)
	}

	if updated.Status != request.StatusAssigned {
		t.Errorf("status = %s, want assigned", updated.Status)
	}
	if updated.Assignee != request.TeamAssignee("team-1") {
		t.Errorf("assignee = %+v, want team-1", updated.Assignee)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if len(repo.updates) != 1 || repo.updates[0].Status != request.StatusAssigned {
		t.Errorf("expected one assigned audit row, got %+v", repo.updates)
	}
	if len(outbox.topics) != 1 || outbox.topics[0] != "request.assigned" {
		t.Errorf("outbox topics = %v", outbox.topics)
	}
}

func TestAllocateToTeam_CallType(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{req: pendingRequest(request.ServiceCall)}
	svc := NewService(pool, repo, &fakeResponders{}, nil)

	_, err := svc.AllocateToTeam(context.Background(), "req-1", "team-1", "dispatcher-1")
	if !errors.Is(err, request.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback, not commit")
	}
	if len(repo.assigns) != 0 {
		t.Error("request must not be assigned")
	}
}

func TestAllocateToTeam_NotPending(t *testing.T) {
	req := pendingRequest(request.ServiceSecurity)
	req.Status = request.StatusAccepted
	req.Assignee = request.TeamAssignee("team-9")
	pool := &fakePool{}
	repo := &fakeRepo{req: req}
	svc := NewService(pool, repo, &fakeResponders{activeTeams: map[string]bool{"team-1": true}}, nil)

	_, err := svc.AllocateToTeam(context.Background(), "req-1", "team-1", "dispatcher-1")
	if !errors.Is(err, request.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestAllocateToTeam_InactiveTeam(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{req: pendingRequest(request.ServiceSecurity)}
	responders := &fakeResponders{activeTeams: map[string]bool{"team-1": false}}
	svc := NewService(pool, repo, responders, nil)

	_, err := svc.AllocateToTeam(context.Background(), "req-1", "team-1", "dispatcher-1")
	if !errors.Is(err, ErrResponderNotActive) {
		t.Fatalf("err = %v, want ErrResponderNotActive", err)
	}
}

func TestAllocateToProvider_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{req: pendingRequest(request.ServiceTowing)}
	responders := &fakeResponders{providers: map[string]Provider{
		"prov-1": {ID: "prov-1", ServiceType: request.ServiceTowing, Active: true},
	}}
	svc := NewService(pool, repo, responders, nil)

	updated, err := svc.AllocateToProvider(context.Background(), "req-1", "prov-1", "dispatcher-1")
	if err != nil {
		t.Fatalf("AllocateToProvider: %v", err)
	}
	if updated.Assignee != request.ProviderAssignee("prov-1") {
		t.Errorf("assignee = %+v, want prov-1", updated.Assignee)
	}
}

func TestAllocateToProvider_TypeMismatch(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{req: pendingRequest(request.ServiceAmbulance)}
	responders := &fakeResponders{providers: map[string]Provider{
		"prov-1": {ID: "prov-1", ServiceType: request.ServiceTowing, Active: true},
	}}
	svc := NewService(pool, repo, responders, nil)

	_, err := svc.AllocateToProvider(context.Background(), "req-1", "prov-1", "dispatcher-1")
	if !errors.Is(err, ErrServiceTypeMismatch) {
		t.Fatalf("err = %v, want ErrServiceTypeMismatch", err)
	}
}

func TestAllocateToProvider_Inactive(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{req: pendingRequest(request.ServiceTowing)}
	responders := &fakeResponders{providers: map[string]Provider{
		"prov-1": {ID: "prov-1", ServiceType: request.ServiceTowing, Active: false},
	}}
	svc := NewService(pool, repo, responders, nil)

	_, err := svc.AllocateToProvider(context.Background(), "req-1", "prov-1", "dispatcher-1")
	if !errors.Is(err, ErrResponderNotActive) {
		t.Fatalf("err = %v, want ErrResponderNotActive", err)
	}
}

func TestHandleCall_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{req: pendingRequest(request.ServiceCall)}
	outbox := &fakeOutbox{}
	svc := NewService(pool, repo, &fakeResponders{}, outbox)

	updated, err := svc.HandleCall(context.Background(), "req-1", "dispatcher-1", "advice given")
	if err != nil {
		t.Fatalf("HandleCall: %v", err)
	}
	if updated.Status != request.StatusHandled {
		t.Errorf("status = %s, want handled", updated.Status)
	}
	if updated.AcceptedAt == nil {
		t.Error("handled request must stamp accepted_at")
	}
	if len(outbox.topics) != 1 || outbox.topics[0] != "request.handled" {
		t.Errorf("outbox topics = %v", outbox.topics)
	}
}

func TestHandleCall_NonCallType(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{req: pendingRequest(request.ServiceFire)}
	svc := NewService(pool, repo, &fakeResponders{}, nil)

	_, err := svc.HandleCall(context.Background(), "req-1", "dispatcher-1", "")
	if !errors.Is(err, request.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if repo.handled {
		t.Error("request must not be marked handled")
	}
}

func TestReassign_RequiresExactlyOneTarget(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{}, &fakeResponders{}, nil)

	_, err := svc.Reassign(context.Background(), ReassignParams{RequestID: "req-1"})
	if !errors.Is(err, ErrInvalidReassignmentTarget) {
		t.Fatalf("err = %v, want ErrInvalidReassignmentTarget", err)
	}

	_, err = svc.Reassign(context.Background(), ReassignParams{
		RequestID: "req-1", NewTeamID: "team-1", NewProviderID: "prov-1",
	})
	if !errors.Is(err, ErrInvalidReassignmentTarget) {
		t.Fatalf("err = %v, want ErrInvalidReassignmentTarget", err)
	}
}

func TestReassign_FromArrived(t *testing.T) {
	req := pendingRequest(request.ServiceSecurity)
	req.Status = request.StatusArrived
	req.Assignee = request.TeamAssignee("team-1")
	pool := &fakePool{}
	repo := &fakeRepo{req: req}
	svc := NewService(pool, repo, &fakeResponders{activeTeams: map[string]bool{"team-2": true}}, nil)

	_, err := svc.Reassign(context.Background(), ReassignParams{RequestID: "req-1", NewTeamID: "team-2"})
	if !errors.Is(err, ErrInvalidStateForReassignment) {
		t.Fatalf("err = %v, want ErrInvalidStateForReassignment", err)
	}
}

func TestReassign_AcceptedSameKindKeepsAcceptance(t *testing.T) {
	accepted := time.Now()
	req := pendingRequest(request.ServiceSecurity)
	req.Status = request.StatusAccepted
	req.Assignee = request.TeamAssignee("team-1")
	req.AcceptedAt = &accepted

	pool := &fakePool{}
	repo := &fakeRepo{req: req}
	svc := NewService(pool, repo, &fakeResponders{activeTeams: map[string]bool{"team-2": true}}, nil)

	updated, err := svc.Reassign(context.Background(), ReassignParams{
		RequestID: "req-1", NewTeamID: "team-2", ActorID: "dispatcher-1",
	})
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if len(repo.replaced) != 1 {
		t.Fatalf("expected ReplaceAssignee, got assigns=%v replaced=%v", repo.assigns, repo.replaced)
	}
	if updated.Status != request.StatusAccepted {
		t.Errorf("status = %s, want accepted", updated.Status)
	}
	if updated.AcceptedAt == nil {
		t.Error("acceptance must survive same-kind reassignment")
	}
}

func TestReassign_CrossKindResetsToAssigned(t *testing.T) {
	accepted := time.Now()
	req := pendingRequest(request.ServiceTowing)
	req.Status = request.StatusAccepted
	req.Assignee = request.TeamAssignee("team-1")
	req.AcceptedAt = &accepted

	pool := &fakePool{}
	repo := &fakeRepo{req: req}
	responders := &fakeResponders{providers: map[string]Provider{
		"prov-1": {ID: "prov-1", ServiceType: request.ServiceTowing, Active: true},
	}}
	svc := NewService(pool, repo, responders, nil)

	updated, err := svc.Reassign(context.Background(), ReassignParams{
		RequestID: "req-1", NewProviderID: "prov-1", ActorID: "dispatcher-1",
	})
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if len(repo.assigns) != 1 {
		t.Fatalf("expected Assign, got assigns=%v replaced=%v", repo.assigns, repo.replaced)
	}
	if updated.Status != request.StatusAssigned {
		t.Errorf("status = %s, want assigned", updated.Status)
	}
	if updated.AcceptedAt != nil {
		t.Error("cross-kind reassignment must clear acceptance")
	}
}

type fakeResponders struct {
	activeTeams map[string]bool
	providers   map[string]Provider
}

func (f *fakeResponders) TeamActive(_ context.Context, _ pgx.Tx, teamID string) (bool, error) {
	return f.activeTeams[teamID], nil
}

func (f *fakeResponders) Provider(_ context.Context, _ pgx.Tx, providerID string) (Provider, error) {
	p, ok := f.providers[providerID]
	if !ok {
		return Provider{}, ErrResponderNotActive
	}
	return p, nil
}

type fakeOutbox struct {
	topics []string
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

// fakeRepo applies mutations to a single in-memory request.
type fakeRepo struct {
	req      request.Request
	getErr   error
	assigns  []request.Assignee
	replaced []request.Assignee
	updates  []request.StatusUpdate
	handled  bool
}

func (f *fakeRepo) Create(context.Context, pgx.Tx, request.CreateParams) (request.Request, error) {
	panic("not used")
}

func (f *fakeRepo) Get(context.Context, string) (request.Request, error) {
	return f.req, f.getErr
}

func (f *fakeRepo) GetForUpdate(context.Context, pgx.Tx, string) (request.Request, error) {
	if f.getErr != nil {
		return request.Request{}, f.getErr
	}
	return f.req, nil
}

func (f *fakeRepo) Assign(_ context.Context, _ pgx.Tx, _ string, assignee request.Assignee) (request.Request, error) {
	f.assigns = append(f.assigns, assignee)
	f.req.Status = request.StatusAssigned
	f.req.Assignee = assignee
	f.req.AcceptedAt = nil
	return f.req, nil
}

func (f *fakeRepo) ReplaceAssignee(_ context.Context, _ pgx.Tx, _ string, assignee request.Assignee) (request.Request, error) {
	f.replaced = append(f.replaced, assignee)
	f.req.Assignee = assignee
	return f.req, nil
}

func (f *fakeRepo) ReturnToPending(context.Context, pgx.Tx, string) (request.Request, error) {
	f.req.Status = request.StatusPending
	f.req.Assignee = request.NoAssignee()
	return f.req, nil
}

func (f *fakeRepo) MarkAccepted(context.Context, pgx.Tx, string) (request.Request, error) {
	now := time.Now()
	f.req.Status = request.StatusAccepted
	f.req.AcceptedAt = &now
	return f.req, nil
}

func (f *fakeRepo) MarkEnRoute(context.Context, pgx.Tx, string) (request.Request, error) {
	f.req.Status = request.StatusEnRoute
	return f.req, nil
}

func (f *fakeRepo) MarkArrived(context.Context, pgx.Tx, string) (request.Request, error) {
	now := time.Now()
	f.req.Status = request.StatusArrived
	f.req.ArrivedAt = &now
	return f.req, nil
}

func (f *fakeRepo) MarkCompleted(context.Context, pgx.Tx, string) (request.Request, error) {
	now := time.Now()
	f.req.Status = request.StatusCompleted
	f.req.CompletedAt = &now
	return f.req, nil
}

func (f *fakeRepo) MarkHandled(context.Context, pgx.Tx, string) (request.Request, error) {
	now := time.Now()
	f.handled = true
	f.req.Status = request.StatusHandled
	f.req.AcceptedAt = &now
	return f.req, nil
}

func (f *fakeRepo) AppendStatusUpdate(_ context.Context, _ pgx.Tx, update request.StatusUpdate) error {
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeRepo) ListByAssignee(context.Context, request.Assignee, *request.Status) ([]request.Request, error) {
	return []request.Request{f.req}, nil
}

func (f *fakeRepo) PendingForFirm(context.Context, string) ([]request.Request, error) {
	return []request.Request{f.req}, nil
}

func (f *fakeRepo) History(context.Context, string) ([]request.StatusUpdate, error) {
	return f.updates, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
