package genealogy

import (
	"context"
	"fmt"
	"testing"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	users map[uint]*model.User
}

func newMemStore() *memStore {
	return &memStore{users: make(map[uint]*model.User)}
}

func (m *memStore) GetUser(_ context.Context, id uint) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	return u, nil
}

func (m *memStore) GetPlacementChild(_ context.Context, parentID uint, side model.Side) (*model.User, error) {
	for _, u := range m.users {
		if u.PlacementUserID != nil && *u.PlacementUserID == parentID && u.PlacementSide != nil && *u.PlacementSide == side {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateUser(_ context.Context, u *model.User) error {
	m.users[u.ID] = u
	return nil
}

func ptr(v uint) *uint { return &v }

// tree builds:
//
//	      1
//	    /   \
//	   2     3
//	  /
//	 4
//
// with sponsors 2->1, 3->1, 4->2.
func tree(t *testing.T) (*Graph, *memStore) {
	t.Helper()
	store := newMemStore()
	g := New(store, 0)
	ctx := context.Background()

	require.NoError(t, g.Attach(ctx, &model.User{ID: 1}, nil, nil, ""))
	require.NoError(t, g.Attach(ctx, &model.User{ID: 2}, ptr(1), ptr(1), model.SideLeft))
	require.NoError(t, g.Attach(ctx, &model.User{ID: 3}, ptr(1), ptr(1), model.SideRight))
	require.NoError(t, g.Attach(ctx, &model.User{ID: 4}, ptr(2), ptr(2), model.SideLeft))
	return g, store
}

func TestAttach(t *testing.T) {
	g, store := tree(t)
	ctx := context.Background()

	assert.Equal(t, model.StatusActive, store.users[4].Status)
	assert.Equal(t, model.SideLeft, *store.users[4].PlacementSide)

	// Spillover: sponsored by 1, seated under 3.
	require.NoError(t, g.Attach(ctx, &model.User{ID: 5}, ptr(1), ptr(3), model.SideLeft))
	assert.Equal(t, uint(1), *store.users[5].SponsorID)
	assert.Equal(t, uint(3), *store.users[5].PlacementUserID)
}

func TestAttachErrors(t *testing.T) {
	tests := []struct {
		name      string
		child     uint
		sponsor   *uint
		placement *uint
		side      model.Side
		want      error
	}{
		{"occupied side", 9, ptr(1), ptr(1), model.SideLeft, apperr.ErrInvalidPlacement},
		{"unknown sponsor", 9, ptr(77), ptr(3), model.SideLeft, apperr.ErrNotFound},
		{"unknown placement parent", 9, ptr(1), ptr(77), model.SideLeft, apperr.ErrNotFound},
		{"bad side", 9, ptr(1), ptr(3), "MIDDLE", apperr.ErrInvalidPlacement},
		{"side without parent", 9, ptr(1), nil, model.SideLeft, apperr.ErrInvalidPlacement},
		{"self sponsor", 9, ptr(9), nil, "", apperr.ErrCycleDetected},
		{"sponsor is descendant", 2, ptr(4), nil, "", apperr.ErrCycleDetected},
		{"placement under descendant", 2, ptr(1), ptr(4), model.SideRight, apperr.ErrCycleDetected},
		{"already attached", 4, ptr(1), ptr(3), model.SideLeft, apperr.ErrInvalidPlacement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := tree(t)
			err := g.Attach(context.Background(), &model.User{ID: tt.child}, tt.sponsor, tt.placement, tt.side)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSponsorChainOrderAndDepth(t *testing.T) {
	g, _ := tree(t)
	ctx := context.Background()

	chain, err := g.SponsorChain(ctx, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, []SponsorRef{{UserID: 2, Level: 1}, {UserID: 1, Level: 2}}, chain)

	chain, err = g.SponsorChain(ctx, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []SponsorRef{{UserID: 2, Level: 1}}, chain)

	chain, err = g.SponsorChain(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestBinaryPath(t *testing.T) {
	g, _ := tree(t)

	path, err := g.BinaryPath(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []PathRef{{UserID: 2, Side: model.SideLeft}, {UserID: 1, Side: model.SideLeft}}, path)

	path, err = g.BinaryPath(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []PathRef{{UserID: 1, Side: model.SideRight}}, path)
}

func TestWalkStopsEarly(t *testing.T) {
	g, _ := tree(t)
	visited := 0
	err := g.WalkSponsors(context.Background(), 4, 10, func(SponsorRef) bool {
		visited++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, visited)
}

func TestCorruptedCycleTerminates(t *testing.T) {
	g, store := tree(t)
	// Corrupt the graph: 1 now points back at 4 on both trees.
	store.users[1].SponsorID = ptr(4)
	store.users[1].PlacementUserID = ptr(4)
	left := model.SideLeft
	store.users[1].PlacementSide = &left

	_, err := g.SponsorChain(context.Background(), 4, 1000)
	assert.ErrorIs(t, err, apperr.ErrGraphIntegrity)

	_, err = g.BinaryPath(context.Background(), 4)
	assert.ErrorIs(t, err, apperr.ErrGraphIntegrity)
}

func TestDepthCeiling(t *testing.T) {
	store := newMemStore()
	g := New(store, 5)
	ctx := context.Background()

	require.NoError(t, g.Attach(ctx, &model.User{ID: 1}, nil, nil, ""))
	for id := uint(2); id <= 8; id++ {
		require.NoError(t, store.CreateUser(ctx, &model.User{ID: id, SponsorID: ptr(id - 1), PlacementUserID: ptr(id - 1), PlacementSide: func() *model.Side { s := model.SideRight; return &s }()}))
	}

	_, err := g.SponsorChain(ctx, 8, 100)
	assert.ErrorIs(t, err, apperr.ErrGraphIntegrity)
	_, err = g.BinaryPath(ctx, 8)
	assert.ErrorIs(t, err, apperr.ErrGraphIntegrity)

	chain, err := g.SponsorChain(ctx, 8, 3)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

func TestMissingAncestorIsIntegrityError(t *testing.T) {
	g, store := tree(t)
	delete(store.users, 2)

	_, err := g.SponsorChain(context.Background(), 4, 10)
	assert.ErrorIs(t, err, apperr.ErrGraphIntegrity)
}
