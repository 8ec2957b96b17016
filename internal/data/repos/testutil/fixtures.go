package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	now := time.Now().UTC()
	u := &types.User{
		ID:        uuid.New(),
		Email:     email,
		Name:      "Test User",
		Timezone:  "Europe/Amsterdam",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedPreferences(tb testing.TB, ctx context.Context, tx *gorm.DB, p *types.NotificationPreferences) *types.NotificationPreferences {
	tb.Helper()
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed preferences: %v", err)
	}
	return p
}

func CountRows(tb testing.TB, tx *gorm.DB, model any) int64 {
	tb.Helper()
	var n int64
	if err := tx.Model(model).Count(&n).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	return n
}

func PtrString(v string) *string { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
