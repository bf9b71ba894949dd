package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kue-app/backend/internal/database"
)

const accountColumns = `user_id, credits_remaining, is_pro, next_refill_at, version, updated_at`

// PostgresStore keeps accounts in the credit_accounts table. Every decision
// runs in one transaction and every balance change is a single conditional
// UPDATE, so concurrent requests for the same user serialize on the row lock.
type PostgresStore struct {
	db     *database.DB
	policy Policy
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(db *database.DB, policy Policy) *PostgresStore {
	return &PostgresStore{db: db, policy: policy}
}

// GetOrCreate implements Store.
func (s *PostgresStore) GetOrCreate(ctx context.Context, userID string, now time.Time) (Decision, error) {
	if userID == "" {
		return Decision{}, ErrInvalidUser
	}

	var d Decision
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		acc, healed, refilled, err := s.load(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		d = Decision{Allowed: true, SelfHealed: healed, Refilled: refilled, Account: acc}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Authorize implements Store.
func (s *PostgresStore) Authorize(ctx context.Context, userID string, isRegeneration bool, now time.Time) (Decision, error) {
	if userID == "" {
		return Decision{}, ErrInvalidUser
	}

	var d Decision
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		acc, healed, refilled, err := s.load(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		d = Decision{SelfHealed: healed, Refilled: refilled, Account: acc}

		if acc.IsPro || isRegeneration {
			d.Allowed = true
			return nil
		}

		billed, err := scanAccount(tx.QueryRow(ctx, `
			UPDATE credit_accounts
			SET credits_remaining = credits_remaining - 1, version = version + 1, updated_at = $2
			WHERE user_id = $1 AND NOT is_pro AND credits_remaining > 0
			RETURNING `+accountColumns,
			userID, now,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			// Nothing left to spend. Commit anyway so a self-heal or refill
			// performed above is kept.
			return nil
		}
		if err != nil {
			return fmt.Errorf("credits: decrement: %w", err)
		}

		d.Allowed = true
		d.Billed = true
		d.Account = billed
		return nil
	})
	if err != nil {
		return Decision{}, err
	}
	if !d.Allowed {
		return d, ErrQuotaExceeded
	}
	return d, nil
}

// UpgradeToPro implements Store.
func (s *PostgresStore) UpgradeToPro(ctx context.Context, userID string, now time.Time) (Account, error) {
	if userID == "" {
		return Account{}, ErrInvalidUser
	}

	acc, err := scanAccount(s.db.QueryRow(ctx, `
		INSERT INTO credit_accounts (user_id, credits_remaining, is_pro, next_refill_at, version, created_at, updated_at)
		VALUES ($1, NULL, true, $2, 1, $3, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET is_pro = true, credits_remaining = NULL,
		    version = credit_accounts.version + 1, updated_at = $3
		RETURNING `+accountColumns,
		userID, now.Add(s.policy.RefillInterval), now,
	))
	if err != nil {
		return Account{}, fmt.Errorf("credits: upgrade to pro: %w", err)
	}
	return acc, nil
}

// load self-heals and refills inside tx, then returns the current row.
func (s *PostgresStore) load(ctx context.Context, tx pgx.Tx, userID string, now time.Time) (Account, bool, bool, error) {
	// ON CONFLICT DO NOTHING makes concurrent first requests create one row;
	// the losers get no RETURNING row and fall through to the refill/select.
	acc, err := scanAccount(tx.QueryRow(ctx, `
		INSERT INTO credit_accounts (user_id, credits_remaining, is_pro, next_refill_at, version, created_at, updated_at)
		VALUES ($1, $2, false, $3, 1, $4, $4)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+accountColumns,
		userID, s.policy.FreeCredits, now.Add(s.policy.RefillInterval), now,
	))
	if err == nil {
		return acc, true, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, false, false, fmt.Errorf("credits: self-heal: %w", err)
	}

	acc, err = scanAccount(tx.QueryRow(ctx, `
		UPDATE credit_accounts
		SET credits_remaining = $2, next_refill_at = $3, version = version + 1, updated_at = $4
		WHERE user_id = $1 AND NOT is_pro AND next_refill_at <= $4
		RETURNING `+accountColumns,
		userID, s.policy.FreeCredits, now.Add(s.policy.RefillInterval), now,
	))
	if err == nil {
		return acc, false, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, false, false, fmt.Errorf("credits: refill: %w", err)
	}

	acc, err = scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1`, userID))
	if err != nil {
		return Account{}, false, false, fmt.Errorf("credits: load account: %w", err)
	}
	return acc, false, false, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acc       Account
		remaining *int32
	)
	if err := row.Scan(&acc.UserID, &remaining, &acc.IsPro, &acc.NextRefillAt, &acc.Version, &acc.UpdatedAt); err != nil {
		return Account{}, err
	}
	if remaining == nil {
		acc.Credits = UnlimitedBalance()
	} else {
		acc.Credits = Limited(int(*remaining))
	}
	return acc, nil
}
