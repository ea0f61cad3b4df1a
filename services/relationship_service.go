package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/techagentng/citizenchat/config"
	"github.com/techagentng/citizenchat/db"
	errs "github.com/techagentng/citizenchat/errors"
)

// Relations are the block and archive edges that touch one user.
type Relations struct {
	Blocked   map[uint]bool
	BlockedBy map[uint]bool
	Archived  map[uint]bool
}

// RelationshipService is the block and archive gate. IsBlocked(a, b) means a
// has blocked b. Every mutator is idempotent.
type RelationshipService interface {
	IsBlocked(ctx context.Context, a, b uint) (bool, error)
	EitherBlocked(ctx context.Context, a, b uint) (bool, error)
	Block(ctx context.Context, a, b uint) error
	Unblock(ctx context.Context, a, b uint) error
	IsArchived(ctx context.Context, a, b uint) (bool, error)
	Archive(ctx context.Context, a, b uint) error
	Unarchive(ctx context.Context, a, b uint) error
	Relations(ctx context.Context, userID uint) (*Relations, error)
}

type relationshipService struct {
	Config *config.Config
	repo   db.RelationshipRepository
	users  db.UserRepository
}

func NewRelationshipService(repo db.RelationshipRepository, users db.UserRepository, conf *config.Config) RelationshipService {
	return &relationshipService{
		Config: conf,
		repo:   repo,
		users:  users,
	}
}

func (s *relationshipService) IsBlocked(ctx context.Context, a, b uint) (bool, error) {
	blocked, err := s.repo.IsBlocked(ctx, a, b)
	if err != nil {
		return false, errs.Internal("could not check block status", err)
	}
	return blocked, nil
}

func (s *relationshipService) EitherBlocked(ctx context.Context, a, b uint) (bool, error) {
	blocked, err := s.IsBlocked(ctx, a, b)
	if err != nil || blocked {
		return blocked, err
	}
	return s.IsBlocked(ctx, b, a)
}

func (s *relationshipService) Block(ctx context.Context, a, b uint) error {
	if err := s.checkTarget(ctx, a, b, "block"); err != nil {
		return err
	}
	if err := s.repo.CreateBlock(ctx, a, b); err != nil {
		return errs.Internal("could not block user", err)
	}
	return nil
}

func (s *relationshipService) Unblock(ctx context.Context, a, b uint) error {
	if a == b {
		return errs.InvalidInput("you cannot unblock yourself")
	}
	if err := s.repo.DeleteBlock(ctx, a, b); err != nil {
		return errs.Internal("could not unblock user", err)
	}
	return nil
}

func (s *relationshipService) IsArchived(ctx context.Context, a, b uint) (bool, error) {
	archived, err := s.repo.IsArchived(ctx, a, b)
	if err != nil {
		return false, errs.Internal("could not check archive status", err)
	}
	return archived, nil
}

func (s *relationshipService) Archive(ctx context.Context, a, b uint) error {
	if err := s.checkTarget(ctx, a, b, "archive"); err != nil {
		return err
	}
	if err := s.repo.CreateArchive(ctx, a, b); err != nil {
		return errs.Internal("could not archive chat", err)
	}
	return nil
}

func (s *relationshipService) Unarchive(ctx context.Context, a, b uint) error {
	if a == b {
		return errs.InvalidInput("you cannot unarchive yourself")
	}
	if err := s.repo.DeleteArchive(ctx, a, b); err != nil {
		return errs.Internal("could not unarchive chat", err)
	}
	return nil
}

func (s *relationshipService) Relations(ctx context.Context, userID uint) (*Relations, error) {
	blocked, err := s.repo.BlockedIDs(ctx, userID)
	if err != nil {
		return nil, errs.Internal("could not load relations", err)
	}
	blockedBy, err := s.repo.BlockerIDs(ctx, userID)
	if err != nil {
		return nil, errs.Internal("could not load relations", err)
	}
	archived, err := s.repo.ArchivedIDs(ctx, userID)
	if err != nil {
		return nil, errs.Internal("could not load relations", err)
	}
	return &Relations{
		Blocked:   toSet(blocked),
		BlockedBy: toSet(blockedBy),
		Archived:  toSet(archived),
	}, nil
}

func (s *relationshipService) checkTarget(ctx context.Context, a, b uint, action string) error {
	if a == b {
		return errs.InvalidInput("you cannot " + action + " yourself")
	}
	if _, err := s.users.FindUserByID(ctx, b); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return errs.NotFound("user not found")
		}
		return errs.Internal("could not load user", err)
	}
	return nil
}

func toSet(ids []uint) map[uint]bool {
	set := make(map[uint]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
