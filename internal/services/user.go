package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	cache "github.com/yungbote/habitbridge-backend/internal/clients/redis"
	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/domain/ids"
	"github.com/yungbote/habitbridge-backend/internal/legacy"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/backendmode"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/sync/readthrough"
)

const (
	UserBackendFlag    = "USER_BACKEND"
	UsageBackendFlag   = "USAGE_BACKEND"
	ReadThroughFlag    = "READ_THROUGH_ENABLED"
	legacyUserKeyScope = "user:legacy:"
)

var ErrUserNotFound = fmt.Errorf("user not found: %w", apierr.ErrNotFound)

// ResolvedUser is a user as seen by the store that answered. User.ID is nil
// when only the legacy store knows the user.
type ResolvedUser struct {
	User     *types.User      `json:"user"`
	LegacyID string           `json:"legacy_id,omitempty"`
	Backend  backendmode.Mode `json:"backend"`
}

type UserService interface {
	// Get accepts a relational uuid or a legacy record id.
	Get(ctx context.Context, ref string) (*ResolvedUser, error)
	GetByEmail(ctx context.Context, email string) (*ResolvedUser, error)
	// RelationalUser always answers from Postgres, repairing from the legacy
	// store on a miss.
	RelationalUser(ctx context.Context, ref string) (*types.User, error)
	// LegacyID resolves ref to the user's legacy record id.
	LegacyID(ctx context.Context, ref string) (string, error)
}

type userService struct {
	log         *logger.Logger
	modes       *backendmode.Resolver
	readThrough *readthrough.Users
	legacyUsers readthrough.LegacyUsers
	userRepo    repos.UserRepo
	idMap       repos.IDMapRepo
	cache       cache.UserCache
}

// NewUserService wires user lookups. userRepo and idMap are nil when the
// relational store is not configured; cache may be nil.
func NewUserService(log *logger.Logger, modes *backendmode.Resolver, readThrough *readthrough.Users, legacyUsers readthrough.LegacyUsers, userRepo repos.UserRepo, idMap repos.IDMapRepo, userCache cache.UserCache) UserService {
	if userCache == nil {
		userCache = cache.NopUserCache()
	}
	return &userService{
		log:         log.With("service", "UserService"),
		modes:       modes,
		readThrough: readThrough,
		legacyUsers: legacyUsers,
		userRepo:    userRepo,
		idMap:       idMap,
		cache:       userCache,
	}
}

func (s *userService) Get(ctx context.Context, ref string) (*ResolvedUser, error) {
	ref = strings.TrimSpace(ref)
	if ids.Classify(ref) == ids.KindUnknown {
		return nil, fmt.Errorf("user ref %q: %w", ref, apierr.ErrInvalidArgument)
	}
	mode := s.modes.Mode(UserBackendFlag)
	switch mode {
	case backendmode.Primary:
		u, err := s.RelationalUser(ctx, ref)
		if err != nil {
			return nil, err
		}
		return &ResolvedUser{User: u, LegacyID: s.mappedLegacyID(ctx, ref, u), Backend: mode}, nil
	case backendmode.ShadowRead, backendmode.LegacyOnly:
		legacyID, err := s.LegacyID(ctx, ref)
		if err != nil {
			return nil, err
		}
		rec, err := s.legacyUsers.FindByID(ctx, legacyID)
		if err != nil {
			return nil, err
		}
		return s.fromLegacy(ctx, mode, rec)
	default:
		return nil, fmt.Errorf("unhandled backend mode %q", mode)
	}
}

func (s *userService) GetByEmail(ctx context.Context, email string) (*ResolvedUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email required: %w", apierr.ErrInvalidArgument)
	}
	mode := s.modes.Mode(UserBackendFlag)
	switch mode {
	case backendmode.Primary:
		if u, ok := s.cache.Get(ctx, cache.UserEmailKey(email)); ok {
			return &ResolvedUser{User: u, LegacyID: s.mappedLegacyID(ctx, "", u), Backend: mode}, nil
		}
		u, err := s.readThrough.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, ErrUserNotFound
		}
		s.cache.Set(ctx, u, cache.UserIDKey(u.ID.String()), cache.UserEmailKey(u.Email))
		return &ResolvedUser{User: u, LegacyID: s.mappedLegacyID(ctx, "", u), Backend: mode}, nil
	case backendmode.ShadowRead, backendmode.LegacyOnly:
		rec, err := s.legacyUsers.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return s.fromLegacy(ctx, mode, rec)
	default:
		return nil, fmt.Errorf("unhandled backend mode %q", mode)
	}
}

func (s *userService) RelationalUser(ctx context.Context, ref string) (*types.User, error) {
	ref = strings.TrimSpace(ref)
	key := cacheKeyForRef(ref)
	if key == "" {
		return nil, fmt.Errorf("user ref %q: %w", ref, apierr.ErrInvalidArgument)
	}
	if u, ok := s.cache.Get(ctx, key); ok {
		return u, nil
	}
	u, err := s.readThrough.GetByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	keys := []string{cache.UserIDKey(u.ID.String()), cache.UserEmailKey(u.Email)}
	if key != keys[0] {
		keys = append(keys, key)
	}
	s.cache.Set(ctx, u, keys...)
	return u, nil
}

func (s *userService) LegacyID(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch ids.Classify(ref) {
	case ids.KindLegacy:
		return ref, nil
	case ids.KindUUID:
		if s.idMap != nil {
			legacyID, ok, err := s.idMap.FindLegacyID(dbctx.Context{Ctx: ctx}, types.EntityUser, ref)
			if err != nil {
				return "", err
			}
			if ok {
				return legacyID, nil
			}
		}
		// not synced yet: find the legacy user by email
		if s.userRepo != nil {
			u, err := s.userRepo.GetByID(dbctx.Context{Ctx: ctx}, uuid.MustParse(ref))
			if err != nil {
				return "", err
			}
			if u != nil {
				rec, err := s.legacyUsers.FindByEmail(ctx, u.Email)
				if err != nil {
					return "", err
				}
				if rec != nil {
					return rec.ID, nil
				}
			}
		}
		return "", ErrUserNotFound
	default:
		return "", fmt.Errorf("user ref %q: %w", ref, apierr.ErrInvalidArgument)
	}
}

func (s *userService) fromLegacy(ctx context.Context, mode backendmode.Mode, rec *legacy.Record) (*ResolvedUser, error) {
	if rec == nil {
		return nil, ErrUserNotFound
	}
	u, err := s.legacyUsers.ToUser(*rec)
	if err != nil {
		return nil, err
	}
	if mode == backendmode.ShadowRead {
		s.compareShadow(ctx, u, rec.ID)
	}
	return &ResolvedUser{User: u, LegacyID: rec.ID, Backend: mode}, nil
}

// compareShadow logs where the relational copy disagrees with the legacy
// answer. It never changes the result.
func (s *userService) compareShadow(ctx context.Context, legacyUser *types.User, legacyID string) {
	if s.userRepo == nil {
		return
	}
	rel, err := s.userRepo.GetByEmail(dbctx.Context{Ctx: ctx}, legacyUser.Email)
	if err != nil {
		s.log.Warn("shadow read failed", "legacy_id", legacyID, "error", err)
		return
	}
	if rel == nil {
		s.log.Warn("shadow read: user missing from relational store", "legacy_id", legacyID)
		return
	}
	var diffs []string
	if rel.Name != legacyUser.Name {
		diffs = append(diffs, "name")
	}
	if rel.Timezone != legacyUser.Timezone {
		diffs = append(diffs, "timezone")
	}
	if len(diffs) > 0 {
		s.log.Warn("shadow read mismatch", "legacy_id", legacyID, "user_id", rel.ID, "fields", diffs)
	}
}

func (s *userService) mappedLegacyID(ctx context.Context, ref string, u *types.User) string {
	if ids.IsLegacyID(ref) {
		return ref
	}
	if s.idMap == nil || u == nil {
		return ""
	}
	legacyID, _, err := s.idMap.FindLegacyID(dbctx.Context{Ctx: ctx}, types.EntityUser, u.ID.String())
	if err != nil {
		s.log.Debug("id map lookup failed", "user_id", u.ID, "error", err)
	}
	return legacyID
}

func cacheKeyForRef(ref string) string {
	switch ids.Classify(ref) {
	case ids.KindUUID:
		return cache.UserIDKey(ref)
	case ids.KindLegacy:
		return legacyUserKeyScope + ref
	default:
		return ""
	}
}
