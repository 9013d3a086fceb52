package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// SUBSCRIPTIONS (booking.SubscriptionSource, booking.SubscriptionWriter)
// =============================================================================

const subscriptionColumns = `subscriber_id, tier, start_date, end_date, active, package_credits`

func scanSubscription(row scanner) (booking.Subscription, error) {
	var sub booking.Subscription
	var start, end string
	if err := row.Scan(&sub.SubscriberID, &sub.Tier, &start, &end, &sub.Active, &sub.PackageCredits); err != nil {
		return sub, err
	}
	var err error
	if sub.StartDate, err = parseDate(start); err != nil {
		return sub, err
	}
	if sub.EndDate, err = parseDate(end); err != nil {
		return sub, err
	}
	return sub, nil
}

// SaveSubscription upserts the local copy of a subscription.
func (s *Store) SaveSubscription(ctx context.Context, sub booking.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscriber_id) DO UPDATE SET
			tier = excluded.tier,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			active = excluded.active,
			package_credits = excluded.package_credits,
			updated_at = excluded.updated_at
	`, sub.SubscriberID, sub.Tier, formatDate(sub.StartDate), formatDate(sub.EndDate),
		sub.Active, sub.PackageCredits, formatTime(time.Now()))
	if err != nil {
		return mapError(fmt.Errorf("failed to save subscription: %w", err))
	}
	return nil
}

func (s *Store) Subscription(ctx context.Context, subscriber booking.SubscriberID) (booking.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscriber_id = ?`, subscriber)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, booking.ErrSubscriberNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) ActiveSubscriptions(ctx context.Context, day time.Time) ([]booking.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := formatDate(day)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE active = 1 AND start_date <= ? AND end_date >= ?
		ORDER BY subscriber_id
	`, d, d)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []booking.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// =============================================================================
// FEATURE FLAGS (booking.FeatureToggle, booking.FeatureWriter)
// =============================================================================

func (s *Store) Enabled(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var enabled bool
	err := s.db.QueryRowContext(ctx, `SELECT enabled FROM feature_flags WHERE name = ?`, name).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read feature flag: %w", err)
	}
	return enabled, nil
}

func (s *Store) SetFeature(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_flags (name, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at
	`, name, enabled, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set feature flag: %w", err)
	}
	return nil
}
