// Copyright 2025 AidTrace Project
//
// Postgres validator repository. Proposer selection locks the chosen
// row (FOR UPDATE) so sealers in different processes cannot pick the
// same proposer concurrently.

package validators

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/aidtrace/aid-ledger/pkg/database"
)

// PostgresRepository stores validator rows in Postgres.
type PostgresRepository struct {
	client *database.Client
}

// NewPostgresRepository creates a repository over the shared client.
func NewPostgresRepository(client *database.Client) *PostgresRepository {
	return &PostgresRepository{client: client}
}

const validatorColumns = `
	id, name, public_key, encrypted_private_key, address,
	is_active, priority, total_blocks_created, last_block_created_at, created_at`

func scanValidator(row interface{ Scan(...any) error }) (*Validator, error) {
	v := &Validator{}
	var lastBlock sql.NullTime
	err := row.Scan(
		&v.ID, &v.Name, &v.PublicKey, &v.EncryptedPrivateKey, &v.Address,
		&v.IsActive, &v.Priority, &v.TotalBlocksCreated, &lastBlock, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastBlock.Valid {
		t := lastBlock.Time
		v.LastBlockCreatedAt = &t
	}
	return v, nil
}

func (r *PostgresRepository) Add(ctx context.Context, v *Validator) error {
	query := `
		INSERT INTO validators (` + validatorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var lastBlock sql.NullTime
	if v.LastBlockCreatedAt != nil {
		lastBlock = sql.NullTime{Time: *v.LastBlockCreatedAt, Valid: true}
	}
	_, err := r.client.DB().ExecContext(ctx, query,
		v.ID, v.Name, v.PublicKey, v.EncryptedPrivateKey, v.Address,
		v.IsActive, v.Priority, v.TotalBlocksCreated, lastBlock, v.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case "validators_name_key":
				return fmt.Errorf("%w: %s", ErrDuplicateName, v.Name)
			case "validators_public_key_key":
				return fmt.Errorf("%w: %s", ErrDuplicateKey, v.Name)
			}
			return fmt.Errorf("%w: %s", ErrDuplicateName, v.Name)
		}
		return fmt.Errorf("failed to insert validator: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*Validator, error) {
	query := `SELECT ` + validatorColumns + ` FROM validators WHERE ` + where
	v, err := scanValidator(r.client.DB().QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrValidatorNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get validator: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Validator, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*Validator, error) {
	return r.getOne(ctx, "name = $1", name)
}

func (r *PostgresRepository) GetByPublicKey(ctx context.Context, publicKey string) (*Validator, error) {
	return r.getOne(ctx, "public_key = $1", publicKey)
}

func (r *PostgresRepository) list(ctx context.Context, query string) ([]*Validator, error) {
	rows, err := r.client.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list validators: %w", err)
	}
	defer rows.Close()

	var out []*Validator
	for rows.Next() {
		v, err := scanValidator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan validator: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Validator, error) {
	return r.list(ctx, `SELECT `+validatorColumns+` FROM validators ORDER BY created_at`)
}

func (r *PostgresRepository) GetActiveOrdered(ctx context.Context) ([]*Validator, error) {
	return r.list(ctx, `
		SELECT `+validatorColumns+` FROM validators
		WHERE is_active
		ORDER BY priority, created_at`)
}

func (r *PostgresRepository) NextProposer(ctx context.Context) (*Validator, error) {
	query := `
		SELECT ` + validatorColumns + ` FROM validators
		WHERE is_active
		ORDER BY total_blocks_created, priority, created_at
		LIMIT 1`

	v, err := scanValidator(r.client.DB().QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, ErrNoValidators
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select proposer: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) SealWithNextProposer(ctx context.Context, seal func(v *Validator) error) (*Validator, error) {
	// Selection and the statistics update share one transaction: the
	// row stays locked until the counter increment commits, so a
	// concurrent sealer in another process skips this validator rather
	// than double-picking it.
	query := `
		SELECT ` + validatorColumns + ` FROM validators
		WHERE is_active
		ORDER BY total_blocks_created, priority, created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin proposer selection: %w", err)
	}
	defer tx.Rollback()

	v, err := scanValidator(tx.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, ErrNoValidators
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select proposer: %w", err)
	}

	if err := seal(v); err != nil {
		// Rollback releases the row; the block counter stays untouched.
		return v, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE validators
		SET total_blocks_created = total_blocks_created + 1,
		    last_block_created_at = $2
		WHERE id = $1`, v.ID, time.Now().UTC()); err != nil {
		return v, fmt.Errorf("failed to record block creation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return v, fmt.Errorf("failed to commit block creation: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) Update(ctx context.Context, v *Validator) error {
	res, err := r.client.DB().ExecContext(ctx, `
		UPDATE validators
		SET address = $2, is_active = $3, priority = $4
		WHERE id = $1`, v.ID, v.Address, v.IsActive, v.Priority)
	if err != nil {
		return fmt.Errorf("failed to update validator: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrValidatorNotFound, v.ID)
	}
	return nil
}
