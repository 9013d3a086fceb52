package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// SUBSCRIPTIONS (booking.SubscriptionSource, booking.SubscriptionWriter)
// =============================================================================

const subscriptionColumns = `subscriber_id, tier, start_date, end_date, active, package_credits`

func scanSubscription(row scanner) (booking.Subscription, error) {
	var sub booking.Subscription
	err := row.Scan(&sub.SubscriberID, &sub.Tier, &sub.StartDate, &sub.EndDate, &sub.Active, &sub.PackageCredits)
	sub.StartDate = booking.DateOf(sub.StartDate)
	sub.EndDate = booking.DateOf(sub.EndDate)
	return sub, err
}

func (s *Store) SaveSubscription(ctx context.Context, sub booking.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (subscriber_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			active = EXCLUDED.active,
			package_credits = EXCLUDED.package_credits,
			updated_at = NOW()
	`, sub.SubscriberID, sub.Tier, booking.DateOf(sub.StartDate), booking.DateOf(sub.EndDate),
		sub.Active, sub.PackageCredits)
	if err != nil {
		return mapError(fmt.Errorf("failed to save subscription: %w", err))
	}
	return nil
}

func (s *Store) Subscription(ctx context.Context, subscriber booking.SubscriberID) (booking.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscriber_id = $1`, subscriber))
	if errors.Is(err, pgx.ErrNoRows) {
		return sub, booking.ErrSubscriberNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

func (s *Store) ActiveSubscriptions(ctx context.Context, day time.Time) ([]booking.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE active AND start_date <= $1 AND end_date >= $1
		ORDER BY subscriber_id
	`, booking.DateOf(day))
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
	var enabled bool
	err := s.pool.QueryRow(ctx, `SELECT enabled FROM feature_flags WHERE name = $1`, name).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read feature flag: %w", err)
	}
	return enabled, nil
}

func (s *Store) SetFeature(ctx context.Context, name string, enabled bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feature_flags (name, enabled, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()
	`, name, enabled)
	if err != nil {
		return fmt.Errorf("failed to set feature flag: %w", err)
	}
	return nil
}
