package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/testutil"
)

func TestPostgresStore_RequestLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	req := &Request{
		ID:               "rcv_pg1",
		WalletIdentity:   testWallet,
		ProposedNewOwner: testNewOwner,
		InitiatedAt:      now,
		ExecutesAt:       now.Add(48 * time.Hour),
		Status:           StatusPending,
		RiskScore:        0,
	}
	require.NoError(t, store.Create(ctx, req))

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, testWallet, got.WalletIdentity)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.Approvals)

	approval := &Approval{
		ID:               "apr_pg1",
		RequestID:        req.ID,
		GuardianIdentity: "0xg1",
		ApprovedAt:       now.Add(time.Hour),
		Proof:            "0xsig",
		Verified:         true,
	}
	require.NoError(t, store.AddApproval(ctx, approval))
	assert.ErrorIs(t, store.AddApproval(ctx, &Approval{
		ID:               "apr_pg2",
		RequestID:        req.ID,
		GuardianIdentity: "0xg1",
		ApprovedAt:       now.Add(2 * time.Hour),
	}), ErrDuplicateApproval)

	got, err = store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got.Approvals, 1)
	assert.True(t, got.Approvals[0].Verified)

	got.Status = StatusApproved
	require.NoError(t, store.Update(ctx, got))

	active, err := store.ActiveByWallet(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, req.ID, active.ID)

	cancelled := now.Add(3 * time.Hour)
	got.Status = StatusCancelled
	got.CancelledAt = &cancelled
	got.CancelledBy = testWallet
	require.NoError(t, store.Update(ctx, got))

	_, err = store.ActiveByWallet(ctx, testWallet)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestPostgresStore_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.Get(ctx, "rcv_missing")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	err = store.Update(ctx, &Request{ID: "rcv_missing", Status: StatusCancelled})
	assert.ErrorIs(t, err, ErrRequestNotFound)

	err = store.AddApproval(ctx, &Approval{
		ID: "apr_orphan", RequestID: "rcv_missing", GuardianIdentity: "0xg1",
		ApprovedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestPostgresStore_ListPendingExpired(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := &Request{
		ID: "rcv_stale", WalletIdentity: testWallet, ProposedNewOwner: testNewOwner,
		InitiatedAt: now.Add(-72 * time.Hour), ExecutesAt: now.Add(-24 * time.Hour),
		Status: StatusPending,
	}
	require.NoError(t, store.Create(ctx, stale))
	fresh := &Request{
		ID: "rcv_fresh", WalletIdentity: testNewOwner, ProposedNewOwner: testWallet,
		InitiatedAt: now, ExecutesAt: now.Add(48 * time.Hour),
		Status: StatusPending,
	}
	require.NoError(t, store.Create(ctx, fresh))

	expired, err := store.ListPendingExpired(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "rcv_stale", expired[0].ID)
}

func TestPostgresAuditStore_AppendAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresAuditStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.Append(ctx, &AuditEntry{
		ID: "aud_1", RequestID: "rcv_1", Timestamp: now,
		Action: ActionInitiated, Actor: testWallet,
		Details: map[string]string{"proposedNewOwner": testNewOwner},
	}))
	require.NoError(t, store.Append(ctx, &AuditEntry{
		ID: "aud_2", RequestID: "rcv_1", Timestamp: now.Add(time.Minute),
		Action: ActionGuardianApproved, Actor: "0xg1",
	}))
	require.NoError(t, store.Append(ctx, &AuditEntry{
		ID: "aud_3", RequestID: "rcv_other", Timestamp: now,
		Action: ActionInitiated, Actor: testWallet,
	}))

	trail, err := store.ListByRequest(ctx, "rcv_1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, ActionInitiated, trail[0].Action)
	assert.Equal(t, testNewOwner, trail[0].Details["proposedNewOwner"])
	assert.Equal(t, ActionGuardianApproved, trail[1].Action)
}
