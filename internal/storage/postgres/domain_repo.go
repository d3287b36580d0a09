package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
)

const domainColumns = `
        id, domain, created_by, is_default, is_enabled,
        ownership_status, ownership_validation_txt_name, ownership_validation_txt_value,
        ssl_status, ssl_validation_txt_name, ssl_validation_txt_value,
        cloudflare_hostname_id, validation_errors,
        verification_started_at, created_at, updated_at`

const uniqueViolation = "23505"

type domainRow struct {
	core.CustomDomain
	ValidationErrors pq.StringArray `db:"validation_errors"`
}

func (r *domainRow) toDomain() *core.CustomDomain {
	d := r.CustomDomain
	d.ValidationErrors = []string(r.ValidationErrors)
	if d.ValidationErrors == nil {
		d.ValidationErrors = []string{}
	}
	return &d
}

func (db *DB) CreateDomain(ctx context.Context, d *core.CustomDomain) error {
	query := `
        INSERT INTO custom_domains (
            id, domain, created_by, is_default, is_enabled,
            ownership_status, ownership_validation_txt_name, ownership_validation_txt_value,
            ssl_status, ssl_validation_txt_name, ssl_validation_txt_value,
            cloudflare_hostname_id, validation_errors,
            verification_started_at, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
        )`

	_, err := db.ExecContext(ctx, query,
		d.ID, d.Domain, d.CreatedBy, d.IsDefault, d.IsEnabled,
		d.OwnershipStatus, d.OwnershipValidationTxtName, d.OwnershipValidationTxtValue,
		d.SSLStatus, d.SSLValidationTxtName, d.SSLValidationTxtValue,
		d.CloudflareHostnameID, pq.Array(nonNil(d.ValidationErrors)),
		d.VerificationStartedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperr.Conflict("create domain", "domain is already registered")
		}
		return fmt.Errorf("failed to create domain: %w", err)
	}
	return nil
}

func (db *DB) FindDomainByID(ctx context.Context, id uuid.UUID) (*core.CustomDomain, error) {
	return db.findOne(ctx, "find domain by id", `WHERE id = $1`, id)
}

func (db *DB) FindDomainByName(ctx context.Context, domain string) (*core.CustomDomain, error) {
	return db.findOne(ctx, "find domain by name", `WHERE domain = $1`, domain)
}

func (db *DB) findOne(ctx context.Context, op, where string, arg interface{}) (*core.CustomDomain, error) {
	var row domainRow
	query := `SELECT ` + domainColumns + ` FROM custom_domains ` + where

	err := db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "domain not found")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return row.toDomain(), nil
}

// ListDomainsByOwner returns one page of the owner's domains, newest first,
// together with the owner's total domain count.
func (db *DB) ListDomainsByOwner(ctx context.Context, owner string, page, limit int) ([]*core.CustomDomain, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM custom_domains WHERE created_by = $1`, owner); err != nil {
		return nil, 0, fmt.Errorf("failed to count domains: %w", err)
	}

	rows := []domainRow{}
	query := `
        SELECT ` + domainColumns + `
        FROM custom_domains
        WHERE created_by = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	if err := db.SelectContext(ctx, &rows, query, owner, limit, (page-1)*limit); err != nil {
		return nil, 0, fmt.Errorf("failed to list domains: %w", err)
	}

	domains := make([]*core.CustomDomain, 0, len(rows))
	for i := range rows {
		domains = append(domains, rows[i].toDomain())
	}
	return domains, total, nil
}

// ListDomainsToVerify returns records with at least one pending axis,
// least recently checked first. Records never checked come first.
func (db *DB) ListDomainsToVerify(ctx context.Context, limit int) ([]*core.CustomDomain, error) {
	rows := []domainRow{}
	query := `
        SELECT ` + domainColumns + `
        FROM custom_domains
        WHERE ownership_status = 'pending' OR ssl_status = 'pending'
        ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC
        LIMIT $1`

	if err := db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list domains to verify: %w", err)
	}

	domains := make([]*core.CustomDomain, 0, len(rows))
	for i := range rows {
		domains = append(domains, rows[i].toDomain())
	}
	return domains, nil
}

// MarkChecked stamps last_checked_at so pending records rotate through
// the verification batches. Verification state and updated_at are left
// alone.
func (db *DB) MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE custom_domains SET last_checked_at = $1 WHERE id = $2`,
		at.UTC(), id,
	); err != nil {
		return fmt.Errorf("failed to mark domain checked: %w", err)
	}
	return nil
}

// UpdateVerificationState applies a verification patch to a single row.
// Status columns only move while they are still pending, so a terminal
// status is never overwritten by a late or duplicate check, and the
// validation errors of an axis are only replaced together with its status.
// A patch carrying WindowStart is rejected with a conflict when
// verification was restarted after it was computed.
func (db *DB) UpdateVerificationState(ctx context.Context, id uuid.UUID, patch core.VerificationPatch) (*core.CustomDomain, error) {
	var (
		sets []string
		args []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.OwnershipStatus != nil {
		sets = append(sets, fmt.Sprintf(
			"ownership_status = CASE WHEN ownership_status = 'pending' THEN %s ELSE ownership_status END",
			arg(string(*patch.OwnershipStatus))))
	}
	if patch.OwnershipValidationTxtName != nil {
		sets = append(sets, "ownership_validation_txt_name = "+arg(*patch.OwnershipValidationTxtName))
	}
	if patch.OwnershipValidationTxtValue != nil {
		sets = append(sets, "ownership_validation_txt_value = "+arg(*patch.OwnershipValidationTxtValue))
	}
	if patch.SSLStatus != nil {
		sets = append(sets, fmt.Sprintf(
			"ssl_status = CASE WHEN ssl_status = 'pending' THEN %s ELSE ssl_status END",
			arg(string(*patch.SSLStatus))))
	}
	if patch.SSLValidationTxtName != nil {
		sets = append(sets, "ssl_validation_txt_name = "+arg(*patch.SSLValidationTxtName))
	}
	if patch.SSLValidationTxtValue != nil {
		sets = append(sets, "ssl_validation_txt_value = "+arg(*patch.SSLValidationTxtValue))
	}
	if patch.SetValidationErrors {
		var pending []string
		if patch.OwnershipStatus != nil {
			pending = append(pending, "ownership_status = 'pending'")
		}
		if patch.SSLStatus != nil {
			pending = append(pending, "ssl_status = 'pending'")
		}
		value := arg(pq.Array(nonNil(patch.ValidationErrors)))
		if len(pending) == 0 {
			sets = append(sets, "validation_errors = "+value)
		} else {
			sets = append(sets, fmt.Sprintf(
				"validation_errors = CASE WHEN %s THEN %s ELSE validation_errors END",
				strings.Join(pending, " OR "), value))
		}
	}
	sets = append(sets, "updated_at = "+arg(time.Now().UTC()))

	const op = "update verification state"
	where := ` WHERE id = ` + arg(id)
	if !patch.WindowStart.IsZero() {
		where += ` AND verification_started_at = ` + arg(patch.WindowStart)
	}
	query := `UPDATE custom_domains SET ` + strings.Join(sets, ", ") + where + ` RETURNING ` + domainColumns

	d, err := db.updateOne(ctx, op, query, args...)
	if apperr.Is(err, apperr.KindNotFound) && !patch.WindowStart.IsZero() {
		return nil, apperr.Conflict(op, "verification was restarted")
	}
	return d, err
}

// ResetVerification restarts verification after a failure with fresh
// challenge values. Only failed axes are reset.
func (db *DB) ResetVerification(ctx context.Context, id uuid.UUID, rr core.Reregistration) (*core.CustomDomain, error) {
	query := `
        UPDATE custom_domains SET
            ownership_status = CASE WHEN $2 THEN 'pending' ELSE ownership_status END,
            ownership_validation_txt_name = CASE WHEN $2 THEN $3 ELSE ownership_validation_txt_name END,
            ownership_validation_txt_value = CASE WHEN $2 THEN $4 ELSE ownership_validation_txt_value END,
            ssl_status = CASE WHEN $5 THEN 'pending' ELSE ssl_status END,
            ssl_validation_txt_name = CASE WHEN $5 THEN $6 ELSE ssl_validation_txt_name END,
            ssl_validation_txt_value = CASE WHEN $5 THEN $7 ELSE ssl_validation_txt_value END,
            validation_errors = '{}',
            last_checked_at = NULL,
            verification_started_at = $8,
            updated_at = $8
        WHERE id = $1
        RETURNING ` + domainColumns

	return db.updateOne(ctx, "reset verification", query,
		id,
		rr.ResetOwnership, rr.Ownership.Name, rr.Ownership.Value,
		rr.ResetSSL, rr.SSL.Name, rr.SSL.Value,
		time.Now().UTC(),
	)
}

func (db *DB) SetDomainEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*core.CustomDomain, error) {
	query := `
        UPDATE custom_domains SET is_enabled = $1, updated_at = $2
        WHERE id = $3
        RETURNING ` + domainColumns

	return db.updateOne(ctx, "set domain enabled", query, enabled, time.Now().UTC(), id)
}

// SetDefaultDomain marks id as the owner's default and clears the flag on
// the owner's other domains.
func (db *DB) SetDefaultDomain(ctx context.Context, owner string, id uuid.UUID) (*core.CustomDomain, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE custom_domains SET is_default = FALSE, updated_at = $1 WHERE created_by = $2 AND id <> $3 AND is_default`,
		now, owner, id,
	); err != nil {
		return nil, fmt.Errorf("failed to clear default domain: %w", err)
	}

	var row domainRow
	query := `
        UPDATE custom_domains SET is_default = TRUE, updated_at = $1
        WHERE id = $2 AND created_by = $3
        RETURNING ` + domainColumns

	err = tx.GetContext(ctx, &row, query, now, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("set default domain", "domain not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set default domain: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit default domain: %w", err)
	}
	return row.toDomain(), nil
}

func (db *DB) DeleteDomain(ctx context.Context, id uuid.UUID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM custom_domains WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete domain: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete domain: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("delete domain", "domain not found")
	}
	return nil
}

func (db *DB) updateOne(ctx context.Context, op, query string, args ...interface{}) (*core.CustomDomain, error) {
	var row domainRow
	err := db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "domain not found")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return row.toDomain(), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
