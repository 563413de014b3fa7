// Package genealogy maintains the sponsor tree and the binary placement
// tree. Both are parent-pointer trees stored on the user rows; every walk
// is bounded by a depth ceiling so a corrupted edge cannot loop forever.
package genealogy

import (
	"context"
	"errors"
	"fmt"

	"compensation-engine/internal/apperr"
	"compensation-engine/internal/model"
)

// DefaultCeiling bounds every traversal.
const DefaultCeiling = 200

// Store is the subset of the user repository the graph needs.
type Store interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	GetPlacementChild(ctx context.Context, parentID uint, side model.Side) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
}

type Graph struct {
	store   Store
	ceiling int
}

func New(store Store, ceiling int) *Graph {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Graph{
		store:   store,
		ceiling: ceiling,
	}
}

// SponsorRef is an ancestor on the sponsor tree; Level 1 is the direct
// sponsor.
type SponsorRef struct {
	UserID uint
	Level  int
}

// PathRef is an ancestor on the placement tree and the side of it the
// walk came up through.
type PathRef struct {
	UserID uint
	Side   model.Side
}

// Attach inserts child into both trees. Either parent may be nil for a
// root. The child must not exist yet.
func (g *Graph) Attach(ctx context.Context, child *model.User, sponsorID, placementParentID *uint, side model.Side) error {
	if child.ID == 0 {
		return fmt.Errorf("child id is required: %w", apperr.ErrInvalidPlacement)
	}

	if sponsorID != nil {
		if *sponsorID == child.ID {
			return fmt.Errorf("user %d cannot sponsor itself: %w", child.ID, apperr.ErrCycleDetected)
		}
		if _, err := g.store.GetUser(ctx, *sponsorID); err != nil {
			return fmt.Errorf("sponsor: %w", err)
		}
		// A re-sent registration for an existing id must not close a loop.
		cyclic := false
		err := g.WalkSponsors(ctx, *sponsorID, 0, func(ref SponsorRef) bool {
			if ref.UserID == child.ID {
				cyclic = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("user %d is an ancestor of sponsor %d: %w", child.ID, *sponsorID, apperr.ErrCycleDetected)
		}
	}

	if placementParentID != nil {
		if !side.Valid() {
			return fmt.Errorf("placement side %q: %w", side, apperr.ErrInvalidPlacement)
		}
		if *placementParentID == child.ID {
			return fmt.Errorf("user %d cannot be placed under itself: %w", child.ID, apperr.ErrCycleDetected)
		}
		if _, err := g.store.GetUser(ctx, *placementParentID); err != nil {
			return fmt.Errorf("placement parent: %w", err)
		}
		occupant, err := g.store.GetPlacementChild(ctx, *placementParentID, side)
		if err != nil {
			return err
		}
		if occupant != nil {
			return fmt.Errorf("%s of user %d is taken by %d: %w", side, *placementParentID, occupant.ID, apperr.ErrInvalidPlacement)
		}
		cyclic := false
		err = g.PathToRoot(ctx, *placementParentID, func(ref PathRef) bool {
			if ref.UserID == child.ID {
				cyclic = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("user %d is above placement parent %d: %w", child.ID, *placementParentID, apperr.ErrCycleDetected)
		}
	} else if side != "" {
		return fmt.Errorf("side without placement parent: %w", apperr.ErrInvalidPlacement)
	}

	if _, err := g.store.GetUser(ctx, child.ID); err == nil {
		return fmt.Errorf("user %d already attached: %w", child.ID, apperr.ErrInvalidPlacement)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	child.SponsorID = sponsorID
	child.PlacementUserID = placementParentID
	if placementParentID != nil {
		s := side
		child.PlacementSide = &s
	} else {
		child.PlacementSide = nil
	}
	if child.Status == "" {
		child.Status = model.StatusActive
	}
	return g.store.CreateUser(ctx, child)
}

// WalkSponsors calls fn for each sponsor ancestor of userID from level 1
// upward. It stops after maxDepth levels, at the root, or when fn returns
// false. A maxDepth of zero walks to the root.
func (g *Graph) WalkSponsors(ctx context.Context, userID uint, maxDepth int, fn func(SponsorRef) bool) error {
	node, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if maxDepth <= 0 {
		maxDepth = g.ceiling + 1
	}

	seen := map[uint]bool{userID: true}
	for level := 1; level <= maxDepth && node.SponsorID != nil; level++ {
		if level > g.ceiling {
			return fmt.Errorf("sponsor chain of user %d exceeds %d levels: %w", userID, g.ceiling, apperr.ErrGraphIntegrity)
		}
		next := *node.SponsorID
		if seen[next] {
			return fmt.Errorf("sponsor cycle through user %d: %w", next, apperr.ErrGraphIntegrity)
		}
		seen[next] = true

		if !fn(SponsorRef{UserID: next, Level: level}) {
			return nil
		}
		if node, err = g.store.GetUser(ctx, next); err != nil {
			return fmt.Errorf("sponsor %d of chain from %d: %w", next, userID, apperr.ErrGraphIntegrity)
		}
	}
	return nil
}

// PathToRoot calls fn for each placement ancestor of userID from the
// immediate parent to the root.
func (g *Graph) PathToRoot(ctx context.Context, userID uint, fn func(PathRef) bool) error {
	node, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	seen := map[uint]bool{userID: true}
	for depth := 1; node.PlacementUserID != nil; depth++ {
		if depth > g.ceiling {
			return fmt.Errorf("placement path of user %d exceeds %d levels: %w", userID, g.ceiling, apperr.ErrGraphIntegrity)
		}
		next := *node.PlacementUserID
		if seen[next] {
			return fmt.Errorf("placement cycle through user %d: %w", next, apperr.ErrGraphIntegrity)
		}
		seen[next] = true
		if node.PlacementSide == nil || !node.PlacementSide.Valid() {
			return fmt.Errorf("user %d has no placement side: %w", node.ID, apperr.ErrGraphIntegrity)
		}

		if !fn(PathRef{UserID: next, Side: *node.PlacementSide}) {
			return nil
		}
		if node, err = g.store.GetUser(ctx, next); err != nil {
			return fmt.Errorf("placement parent %d of path from %d: %w", next, userID, apperr.ErrGraphIntegrity)
		}
	}
	return nil
}

// SponsorChain collects up to maxDepth sponsor ancestors of userID, or all
// of them when maxDepth is zero.
func (g *Graph) SponsorChain(ctx context.Context, userID uint, maxDepth int) ([]SponsorRef, error) {
	var chain []SponsorRef
	err := g.WalkSponsors(ctx, userID, maxDepth, func(ref SponsorRef) bool {
		chain = append(chain, ref)
		return true
	})
	return chain, err
}

// BinaryPath collects the placement path of userID to the root.
func (g *Graph) BinaryPath(ctx context.Context, userID uint) ([]PathRef, error) {
	var path []PathRef
	err := g.PathToRoot(ctx, userID, func(ref PathRef) bool {
		path = append(path, ref)
		return true
	})
	return path, err
}
