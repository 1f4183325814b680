package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const baseColumns = `id, phone, display_name, status, password_hash, mpin_hash,
	recovery_email, recovery_email_verified, recovery_email_verified_at, preferences,
	password_set_at, mpin_set_at, recovery_email_set_at, created_at, updated_at`

var partitionTables = map[Kind]string{
	KindAgent:    "agents",
	KindCustomer: "customers",
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func selectColumns(kind Kind) string {
	if kind == KindAgent {
		return baseColumns + ", admin, region"
	}
	return baseColumns + ", email, photo_url, price_access_approved"
}

func scanAccount(row pgx.Row, kind Kind) (Account, error) {
	var (
		id                 uuid.UUID
		status             string
		recoveryAddr       *string
		recoveryVerified   bool
		recoveryVerifiedAt *time.Time
		prefs              []byte
		acct               = Account{Kind: kind}
	)
	dest := []any{
		&id, &acct.Phone, &acct.DisplayName, &status,
		&acct.Credentials.PasswordHash, &acct.Credentials.MpinHash,
		&recoveryAddr, &recoveryVerified, &recoveryVerifiedAt, &prefs,
		&acct.Credentials.PasswordSetAt, &acct.Credentials.MpinSetAt, &acct.Credentials.RecoveryEmailSetAt,
		&acct.CreatedAt, &acct.UpdatedAt,
	}
	if kind == KindAgent {
		acct.Agent = &AgentFields{}
		dest = append(dest, &acct.Agent.Admin, &acct.Agent.Region)
	} else {
		acct.Customer = &CustomerFields{}
		dest = append(dest, &acct.Customer.Email, &acct.Customer.PhotoURL, &acct.Customer.PriceAccessApproved)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	acct.ID = id.String()
	acct.Status = Status(status)
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	if recoveryAddr != nil {
		acct.Credentials.RecoveryEmail = &RecoveryEmail{Address: *recoveryAddr, Verified: recoveryVerified, VerifiedAt: recoveryVerifiedAt}
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &acct.Credentials.Preferences); err != nil {
			return Account{}, fmt.Errorf("decode preferences: %w", err)
		}
	}
	return acct, nil
}

func (r *PostgresRepository) loadCredentials(ctx context.Context, acct *Account) error {
	rows, err := r.db.Query(ctx, `SELECT id, public_key, aaguid, attestation_type, sign_count, transports, backup_eligible, backup_state, created_at, last_used_at
        FROM webauthn_credentials WHERE account_id = $1 ORDER BY created_at`, acct.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cred  WebAuthnCredential
			count int64
		)
		if err := rows.Scan(&cred.ID, &cred.PublicKey, &cred.AAGUID, &cred.AttestationType, &count, &cred.Transports, &cred.BackupEligible, &cred.BackupState, &cred.CreatedAt, &cred.LastUsedAt); err != nil {
			return err
		}
		cred.SignCount = uint32(count)
		acct.Credentials.WebAuthn = append(acct.Credentials.WebAuthn, cred)
	}
	return rows.Err()
}

// FindByPhone fetches the oldest account in kind's partition whose phone matches any representation.
func (r *PostgresRepository) FindByPhone(ctx context.Context, kind Kind, reps []string) (Account, error) {
	table, ok := partitionTables[kind]
	if !ok {
		return Account{}, fmt.Errorf("unknown partition %q", kind)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE phone = ANY($1) ORDER BY created_at LIMIT 1`, selectColumns(kind), table)
	acct, err := scanAccount(r.db.QueryRow(ctx, query, reps), kind)
	if err != nil {
		return Account{}, err
	}
	if err := r.loadCredentials(ctx, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// FindCustomerByEmail fetches a customer by profile email.
func (r *PostgresRepository) FindCustomerByEmail(ctx context.Context, email string) (Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE lower(email) = lower($1) LIMIT 1`, selectColumns(KindCustomer))
	acct, err := scanAccount(r.db.QueryRow(ctx, query, email), KindCustomer)
	if err != nil {
		return Account{}, err
	}
	if err := r.loadCredentials(ctx, &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Get fetches an account by id from whichever partition holds it.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrNotFound
	}
	for _, kind := range PartitionPrecedence {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns(kind), partitionTables[kind])
		acct, err := scanAccount(r.db.QueryRow(ctx, query, accountID), kind)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Account{}, err
		}
		if err := r.loadCredentials(ctx, &acct); err != nil {
			return Account{}, err
		}
		return acct, nil
	}
	return Account{}, ErrNotFound
}

// Create inserts a new account into its partition.
func (r *PostgresRepository) Create(ctx context.Context, account Account) error {
	accountID, err := uuid.Parse(account.ID)
	if err != nil {
		return err
	}
	prefs, err := json.Marshal(account.Credentials.Preferences)
	if err != nil {
		return err
	}
	switch account.Kind {
	case KindAgent:
		fields := account.Agent
		if fields == nil {
			fields = &AgentFields{}
		}
		_, err = r.db.Exec(ctx, `INSERT INTO agents (id, phone, display_name, status, password_hash, mpin_hash, preferences, created_at, updated_at, admin, region)
            VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $8, $9, $10)`,
			accountID, account.Phone, account.DisplayName, string(account.Status),
			account.Credentials.PasswordHash, account.Credentials.MpinHash, string(prefs), account.CreatedAt.UTC(),
			fields.Admin, fields.Region)
	case KindCustomer:
		fields := account.Customer
		if fields == nil {
			fields = &CustomerFields{}
		}
		_, err = r.db.Exec(ctx, `INSERT INTO customers (id, phone, display_name, status, password_hash, mpin_hash, preferences, created_at, updated_at, email, photo_url, price_access_approved)
            VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $8, $9, $10, $11)`,
			accountID, account.Phone, account.DisplayName, string(account.Status),
			account.Credentials.PasswordHash, account.Credentials.MpinHash, string(prefs), account.CreatedAt.UTC(),
			fields.Email, fields.PhotoURL, fields.PriceAccessApproved)
	default:
		return fmt.Errorf("unknown partition %q", account.Kind)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrPhoneTaken
	}
	return err
}

// Update overwrites the credential fields set in patch along with their timestamps.
func (r *PostgresRepository) Update(ctx context.Context, id string, patch Patch) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	at := patch.At.UTC()
	args := []any{accountID, at}
	sets := []string{"updated_at = $2"}
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.PasswordHash != nil {
		set("password_hash", patch.PasswordHash)
		sets = append(sets, "password_set_at = $2")
	}
	if patch.MpinHash != nil {
		set("mpin_hash", patch.MpinHash)
		sets = append(sets, "mpin_set_at = $2")
	}
	if patch.RecoveryEmail != nil {
		set("recovery_email", patch.RecoveryEmail.Address)
		set("recovery_email_verified", patch.RecoveryEmail.Verified)
		set("recovery_email_verified_at", patch.RecoveryEmail.VerifiedAt)
		sets = append(sets, "recovery_email_set_at = $2")
	}
	if patch.Preferences != nil {
		prefs, err := json.Marshal(patch.Preferences)
		if err != nil {
			return err
		}
		args = append(args, string(prefs))
		sets = append(sets, fmt.Sprintf("preferences = preferences || $%d::jsonb", len(args)))
	}
	for _, kind := range PartitionPrecedence {
		query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, partitionTables[kind], strings.Join(sets, ", "))
		cmd, err := r.db.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() > 0 {
			return nil
		}
	}
	return ErrNotFound
}

// AddWebAuthnCredential stores a newly registered authenticator.
func (r *PostgresRepository) AddWebAuthnCredential(ctx context.Context, accountID string, cred WebAuthnCredential) error {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return ErrNotFound
	}
	_, err = r.db.Exec(ctx, `INSERT INTO webauthn_credentials (id, account_id, public_key, aaguid, attestation_type, sign_count, transports, backup_eligible, backup_state, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cred.ID, id, cred.PublicKey, cred.AAGUID, cred.AttestationType, int64(cred.SignCount), cred.Transports,
		cred.BackupEligible, cred.BackupState, cred.CreatedAt.UTC())
	return err
}

// AdvanceSignCount performs the counter compare-and-set in a single UPDATE.
func (r *PostgresRepository) AdvanceSignCount(ctx context.Context, accountID string, credentialID []byte, next uint32, usedAt time.Time) error {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE webauthn_credentials SET sign_count = $3, last_used_at = $4
        WHERE account_id = $1 AND id = $2 AND (sign_count < $3 OR (sign_count = 0 AND $3 = 0))`,
		id, credentialID, int64(next), usedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCounterNotAdvanced
	}
	return nil
}
