package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

// ReserveMinute locks the account row, lets check veto the call, and
// charges one minute before commit. check receives the pre-charge row and
// returns the entitlement error, if any. Concurrent reservations for the
// same account queue on the row lock, so the counter can't overshoot.
func (s *Store) ReserveMinute(ctx context.Context, id string, check func(*models.User) error) (models.User, error) {
	const op = "store.ReserveMinute"

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	user, err := scanUser(tx.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
		FOR UPDATE;
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if check != nil {
		if err := check(&user); err != nil {
			return user, err
		}
	}

	if err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET minutes_used = minutes_used + 1
		WHERE id = $1
		RETURNING minutes_used;
	`, id).Scan(&user.MinutesUsed); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// RefundMinute gives back a minute reserved for a call that failed.
func (s *Store) RefundMinute(ctx context.Context, id string) error {
	const op = "store.RefundMinute"
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET minutes_used = GREATEST(minutes_used - 1, 0)
		WHERE id = $1;
	`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResetMinutes zeroes the counter without touching payment state.
func (s *Store) ResetMinutes(ctx context.Context, id string) (models.User, error) {
	return s.updateReturning(ctx, "store.ResetMinutes", `
		UPDATE users
		SET minutes_used = 0
		WHERE id = $1
		RETURNING `+userColumns+`;
	`, id)
}
