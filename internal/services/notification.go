package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/notify"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

const maxLeadMinutes = 12 * 60

type PreferencesInput struct {
	Enabled            bool               `json:"enabled"`
	ReminderMode       types.ReminderMode `json:"reminder_mode"`
	LeadMinutes        int                `json:"lead_minutes"`
	PreferredTimeLocal string             `json:"preferred_time_local"`
	// Timezone defaults to the user's own zone when empty.
	Timezone        string `json:"timezone,omitempty"`
	QuietHoursStart string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`
}

// NotificationService is the user-facing side of reminders. Subscriptions
// and preferences live only in the relational store, so every call resolves
// the user there.
type NotificationService interface {
	Subscribe(ctx context.Context, userRef string, in notify.SubscribeInput) (*types.PushSubscription, error)
	Unsubscribe(ctx context.Context, userRef, endpoint string) (bool, error)
	GetPreferences(ctx context.Context, userRef string) (*types.NotificationPreferences, error)
	// UpdatePreferences takes effect for days not yet planned; reminders
	// already queued keep their time.
	UpdatePreferences(ctx context.Context, userRef string, in PreferencesInput) (*types.NotificationPreferences, error)
}

type notificationService struct {
	log   *logger.Logger
	users UserService
	push  notify.PushService
	prefs repos.NotificationPreferencesRepo
	now   func() time.Time
}

func NewNotificationService(log *logger.Logger, users UserService, push notify.PushService, prefs repos.NotificationPreferencesRepo) NotificationService {
	return &notificationService{
		log:   log.With("service", "NotificationService"),
		users: users,
		push:  push,
		prefs: prefs,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *notificationService) Subscribe(ctx context.Context, userRef string, in notify.SubscribeInput) (*types.PushSubscription, error) {
	u, err := s.users.RelationalUser(ctx, userRef)
	if err != nil {
		return nil, err
	}
	return s.push.Subscribe(ctx, u.ID, in)
}

func (s *notificationService) Unsubscribe(ctx context.Context, userRef, endpoint string) (bool, error) {
	u, err := s.users.RelationalUser(ctx, userRef)
	if err != nil {
		return false, err
	}
	return s.push.Unsubscribe(ctx, u.ID, endpoint)
}

func (s *notificationService) GetPreferences(ctx context.Context, userRef string) (*types.NotificationPreferences, error) {
	u, err := s.users.RelationalUser(ctx, userRef)
	if err != nil {
		return nil, err
	}
	p, err := s.prefs.Get(dbctx.Context{Ctx: ctx}, u.ID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("notification preferences for %s: %w", userRef, apierr.ErrNotFound)
	}
	return p, nil
}

func (s *notificationService) UpdatePreferences(ctx context.Context, userRef string, in PreferencesInput) (*types.NotificationPreferences, error) {
	u, err := s.users.RelationalUser(ctx, userRef)
	if err != nil {
		return nil, err
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = u.Timezone
	}
	p := &types.NotificationPreferences{
		UserID:             u.ID,
		Enabled:            in.Enabled,
		ReminderMode:       in.ReminderMode,
		LeadMinutes:        in.LeadMinutes,
		PreferredTimeLocal: strings.TrimSpace(in.PreferredTimeLocal),
		Timezone:           tz,
		QuietHoursStart:    strings.TrimSpace(in.QuietHoursStart),
		QuietHoursEnd:      strings.TrimSpace(in.QuietHoursEnd),
	}
	if p.LeadMinutes < 0 || p.LeadMinutes > maxLeadMinutes {
		return nil, fmt.Errorf("lead_minutes must be within 0..%d: %w", maxLeadMinutes, apierr.ErrInvalidArgument)
	}
	// Plan runs every check the sweep will; validate against an enabled
	// copy so disabled preferences are still well-formed when re-enabled.
	probe := *p
	probe.Enabled = true
	if _, err := notify.Plan(&probe, s.now()); err != nil {
		return nil, err
	}

	saved, err := s.prefs.Upsert(dbctx.Context{Ctx: ctx}, p)
	if err != nil {
		return nil, err
	}
	s.log.Info("notification preferences updated", "user_id", u.ID, "enabled", saved.Enabled, "reminder_mode", saved.ReminderMode)
	return saved, nil
}
