package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedRequest(id, wallet string, status Status, initiatedAt time.Time) *Request {
	return &Request{
		ID:               id,
		WalletIdentity:   wallet,
		ProposedNewOwner: testNewOwner,
		InitiatedAt:      initiatedAt,
		ExecutesAt:       initiatedAt.Add(48 * time.Hour),
		Status:           status,
	}
}

func TestMemoryStore_CreateGetUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	req := storedRequest("rcv_1", testWallet, StatusPending, now)
	require.NoError(t, store.Create(ctx, req))

	got, err := store.Get(ctx, "rcv_1")
	require.NoError(t, err)
	assert.Equal(t, testWallet, got.WalletIdentity)
	assert.Equal(t, StatusPending, got.Status)

	got.Status = StatusCancelled
	cancelled := time.Now()
	got.CancelledAt = &cancelled
	require.NoError(t, store.Update(ctx, got))

	got, err = store.Get(ctx, "rcv_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "rcv_missing")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	err = store.Update(context.Background(), storedRequest("rcv_missing", testWallet, StatusPending, time.Now()))
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestMemoryStore_AddApproval(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, storedRequest("rcv_1", testWallet, StatusPending, time.Now())))

	approval := &Approval{
		ID:               "apr_1",
		RequestID:        "rcv_1",
		GuardianIdentity: "0xg1",
		ApprovedAt:       time.Now(),
		Verified:         true,
	}
	require.NoError(t, store.AddApproval(ctx, approval))

	// Same guardian again is rejected.
	dup := &Approval{ID: "apr_2", RequestID: "rcv_1", GuardianIdentity: "0xG1", ApprovedAt: time.Now()}
	assert.ErrorIs(t, store.AddApproval(ctx, dup), ErrDuplicateApproval)

	// Unknown request is rejected.
	orphan := &Approval{ID: "apr_3", RequestID: "rcv_missing", GuardianIdentity: "0xg1"}
	assert.ErrorIs(t, store.AddApproval(ctx, orphan), ErrRequestNotFound)

	got, err := store.Get(ctx, "rcv_1")
	require.NoError(t, err)
	require.Len(t, got.Approvals, 1)
	assert.Equal(t, "apr_1", got.Approvals[0].ID)
}

func TestMemoryStore_ActiveByWallet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Create(ctx, storedRequest("rcv_1", testWallet, StatusCancelled, now.Add(-2*time.Hour))))
	require.NoError(t, store.Create(ctx, storedRequest("rcv_2", testWallet, StatusApproved, now)))

	got, err := store.ActiveByWallet(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, "rcv_2", got.ID)

	// Case-insensitive wallet match.
	_, err = store.ActiveByWallet(ctx, "0x00000000000000000000000000000000000000AA")
	assert.NoError(t, err)

	_, err = store.ActiveByWallet(ctx, testNewOwner)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestMemoryStore_ListOrderingAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Create(ctx, storedRequest("rcv_old", testWallet, StatusCancelled, base.Add(-3*time.Hour))))
	require.NoError(t, store.Create(ctx, storedRequest("rcv_mid", testWallet, StatusExecuted, base.Add(-2*time.Hour))))
	require.NoError(t, store.Create(ctx, storedRequest("rcv_new", testNewOwner, StatusPending, base.Add(-time.Hour))))

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "rcv_new", all[0].ID)
	assert.Equal(t, "rcv_old", all[2].ID)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	mine, err := store.ListByWallet(ctx, testWallet, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "rcv_mid", mine[0].ID)
}

func TestMemoryStore_ListPendingExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	stale := storedRequest("rcv_stale", testWallet, StatusPending, now.Add(-72*time.Hour))
	require.NoError(t, store.Create(ctx, stale))
	fresh := storedRequest("rcv_fresh", testNewOwner, StatusPending, now)
	require.NoError(t, store.Create(ctx, fresh))
	approved := storedRequest("rcv_approved", "0x00000000000000000000000000000000000000cc", StatusApproved, now.Add(-72*time.Hour))
	require.NoError(t, store.Create(ctx, approved))

	expired, err := store.ListPendingExpired(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "rcv_stale", expired[0].ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	req := storedRequest("rcv_1", testWallet, StatusPending, time.Now())
	require.NoError(t, store.Create(ctx, req))
	require.NoError(t, store.AddApproval(ctx, &Approval{ID: "apr_1", RequestID: "rcv_1", GuardianIdentity: "0xg1"}))

	got, err := store.Get(ctx, "rcv_1")
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	got.Status = StatusExecuted
	got.Approvals[0].GuardianIdentity = "0xevil"

	again, err := store.Get(ctx, "rcv_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
	assert.Equal(t, "0xg1", again.Approvals[0].GuardianIdentity)
}
