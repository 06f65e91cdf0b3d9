// Package pg implements the registry on PostgreSQL. All mutations run in
// serializable transactions; alias chains and listings live in normal tables
// so the store is safe to share between API replicas.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"credvault.org/internal/ids"
	"credvault.org/internal/registry"
)

var _ registry.Service = (*Store)(nil)

// Store implements registry.Service on a SQL database.
type Store struct {
	db    *sql.DB
	admin string
	now   func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn, admin string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return NewStore(db, admin, opts...), nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB, admin string, opts ...Option) *Store {
	s := &Store{
		db:    db,
		admin: strings.TrimSpace(admin),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a serializable transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// resolve follows the alias chain to the current CID.
func resolve(ctx context.Context, q querier, hash string) (string, error) {
	for {
		var next string
		err := q.QueryRowContext(ctx,
			`SELECT new_cid FROM credential_aliases WHERE old_cid = $1`, hash).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return hash, nil
		}
		if err != nil {
			return "", fmt.Errorf("pg: resolve alias: %w", err)
		}
		hash = next
	}
}

func scanFile(row *sql.Row) (registry.FileRecord, error) {
	var rec registry.FileRecord
	err := row.Scan(&rec.Hash, &rec.Owner, &rec.Kind, &rec.Timestamp, &rec.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.FileRecord{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.FileRecord{}, fmt.Errorf("pg: scan file: %w", err)
	}
	return rec, nil
}

const fileColumns = `hash, owner_addr, kind, created_at, deleted`

func getFile(ctx context.Context, q querier, key string) (registry.FileRecord, error) {
	return scanFile(q.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE hash = $1`, key))
}

const credentialColumns = `cid, issuer_addr, receiver_addr, metadata, mandatory_fields, revoked_fields, revoked, deleted, created_at`

func scanCredential(row *sql.Row) (registry.Credential, error) {
	var (
		c         registry.Credential
		mandatory []byte
		revoked   []byte
	)
	err := row.Scan(&c.CID, &c.Issuer, &c.Receiver, &c.Metadata, &mandatory, &revoked, &c.Revoked, &c.Deleted, &c.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Credential{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Credential{}, fmt.Errorf("pg: scan credential: %w", err)
	}
	if err := json.Unmarshal(mandatory, &c.MandatoryFields); err != nil {
		return registry.Credential{}, fmt.Errorf("pg: decode mandatory fields: %w", err)
	}
	if err := json.Unmarshal(revoked, &c.RevokedFields); err != nil {
		return registry.Credential{}, fmt.Errorf("pg: decode revoked fields: %w", err)
	}
	return c, nil
}

func getCredential(ctx context.Context, q querier, key string) (registry.Credential, error) {
	return scanCredential(q.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE cid = $1`, key))
}

func mustJSON(v any) []byte {
	if v == nil {
		return []byte("[]")
	}
	data, _ := json.Marshal(v)
	return data
}

func (s *Store) UploadFile(ctx context.Context, caller, fileHash string) (registry.FileRecord, error) {
	caller = strings.TrimSpace(caller)
	fileHash = strings.TrimSpace(fileHash)
	if caller == "" || fileHash == "" {
		return registry.FileRecord{}, registry.ErrNotFound
	}

	var rec registry.FileRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		key, err := resolve(ctx, tx, fileHash)
		if err != nil {
			return err
		}
		prev, err := getFile(ctx, tx, key)
		switch {
		case err == nil && !prev.Deleted:
			return registry.ErrDuplicateFile
		case err == nil:
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE hash = $1`, key); err != nil {
				return fmt.Errorf("pg: drop tombstone: %w", err)
			}
		case !errors.Is(err, registry.ErrNotFound):
			return err
		}

		rec = registry.FileRecord{
			Hash:      key,
			Owner:     caller,
			Kind:      registry.KindFile,
			Timestamp: s.now(),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO files (hash, owner_addr, kind, created_at, deleted) VALUES ($1, $2, $3, $4, FALSE)`,
			rec.Hash, rec.Owner, rec.Kind, rec.Timestamp)
		if err != nil {
			return fmt.Errorf("pg: insert file: %w", err)
		}
		return nil
	})
	if err != nil {
		return registry.FileRecord{}, err
	}
	return rec, nil
}

func (s *Store) DeleteFile(ctx context.Context, caller, fileHash string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		key, err := resolve(ctx, tx, fileHash)
		if err != nil {
			return err
		}
		rec, err := getFile(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.Owner != caller {
			return registry.ErrNotOwner
		}
		if rec.Deleted {
			return registry.ErrAlreadyDeleted
		}
		if _, err := tx.ExecContext(ctx, `UPDATE files SET deleted = TRUE WHERE hash = $1`, key); err != nil {
			return fmt.Errorf("pg: tombstone file: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE credentials SET deleted = TRUE WHERE cid = $1`, key); err != nil {
			return fmt.Errorf("pg: tombstone credential: %w", err)
		}
		return nil
	})
}

func (s *Store) FileExists(ctx context.Context, fileHash string) (bool, error) {
	key, err := resolve(ctx, s.db, fileHash)
	if err != nil {
		return false, err
	}
	rec, err := getFile(ctx, s.db, key)
	if errors.Is(err, registry.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !rec.Deleted, nil
}

func (s *Store) FileCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&count); err != nil {
		return 0, fmt.Errorf("pg: count files: %w", err)
	}
	return count, nil
}

func (s *Store) FileOwner(ctx context.Context, fileHash string) (string, error) {
	key, err := resolve(ctx, s.db, fileHash)
	if err != nil {
		return "", err
	}
	rec, err := getFile(ctx, s.db, key)
	if err != nil {
		return "", err
	}
	return rec.Owner, nil
}

func (s *Store) FileTimestamp(ctx context.Context, fileHash string) (time.Time, error) {
	key, err := resolve(ctx, s.db, fileHash)
	if err != nil {
		return time.Time{}, err
	}
	rec, err := getFile(ctx, s.db, key)
	if err != nil {
		return time.Time{}, err
	}
	return rec.Timestamp, nil
}

func (s *Store) UserFiles(ctx context.Context, owner string) ([]registry.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE owner_addr = $1 AND deleted = FALSE ORDER BY position`, owner)
	if err != nil {
		return nil, fmt.Errorf("pg: list files: %w", err)
	}
	defer rows.Close()

	var out []registry.FileRecord
	for rows.Next() {
		var rec registry.FileRecord
		if err := rows.Scan(&rec.Hash, &rec.Owner, &rec.Kind, &rec.Timestamp, &rec.Deleted); err != nil {
			return nil, fmt.Errorf("pg: scan file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) RegisterIssuer(ctx context.Context, caller, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return registry.ErrNotFound
	}
	if caller != s.admin {
		return registry.ErrUnauthorized
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issuers (address, registered_at) VALUES ($1, $2) ON CONFLICT (address) DO NOTHING`,
		address, s.now())
	if err != nil {
		return fmt.Errorf("pg: register issuer: %w", err)
	}
	return nil
}

func (s *Store) IsIssuer(ctx context.Context, address string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM issuers WHERE address = $1`, address).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pg: check issuer: %w", err)
	}
	return true, nil
}

func (s *Store) IssueCredential(ctx context.Context, caller, cid, receiver, metadata, mandatory string) (registry.Credential, error) {
	cid = strings.TrimSpace(cid)
	receiver = strings.TrimSpace(receiver)
	if cid == "" || receiver == "" {
		return registry.Credential{}, registry.ErrNotFound
	}
	meta, err := registry.ParseMetadata(metadata)
	if err != nil {
		return registry.Credential{}, err
	}
	mandatoryFields, err := registry.ParseMandatoryFields(mandatory)
	if err != nil {
		return registry.Credential{}, err
	}
	for _, f := range mandatoryFields {
		if _, ok := meta[f]; !ok {
			return registry.Credential{}, registry.ErrFieldNotFound
		}
	}

	var cred registry.Credential
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.isIssuerTx(ctx, tx, caller)
		if err != nil {
			return err
		}
		if !ok {
			return registry.ErrNotIssuer
		}
		key, err := resolve(ctx, tx, cid)
		if err != nil {
			return err
		}
		if _, err := getCredential(ctx, tx, key); err == nil {
			return registry.ErrDuplicateFile
		} else if !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		if rec, err := getFile(ctx, tx, key); err == nil && !rec.Deleted {
			return registry.ErrDuplicateFile
		} else if err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}

		now := s.now()
		cred = registry.Credential{
			CID:             key,
			Issuer:          caller,
			Receiver:        receiver,
			Metadata:        metadata,
			MandatoryFields: slices.Clone(mandatoryFields),
			Timestamp:       now,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO credentials (cid, issuer_addr, receiver_addr, metadata, mandatory_fields, revoked_fields, revoked, deleted, created_at)
			 VALUES ($1, $2, $3, $4, $5, '[]', FALSE, FALSE, $6)`,
			key, caller, receiver, metadata, mustJSON(mandatoryFields), now)
		if err != nil {
			return fmt.Errorf("pg: insert credential: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO files (hash, owner_addr, kind, created_at, deleted) VALUES ($1, $2, $3, $4, FALSE)`,
			key, receiver, registry.KindCredential, now)
		if err != nil {
			return fmt.Errorf("pg: insert custody record: %w", err)
		}
		return nil
	})
	if err != nil {
		return registry.Credential{}, err
	}
	return cred, nil
}

func (s *Store) isIssuerTx(ctx context.Context, tx *sql.Tx, address string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM issuers WHERE address = $1`, address).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pg: check issuer: %w", err)
	}
	return true, nil
}

func (s *Store) credentialByAlias(ctx context.Context, cid string) (registry.Credential, error) {
	key, err := resolve(ctx, s.db, cid)
	if err != nil {
		return registry.Credential{}, err
	}
	return getCredential(ctx, s.db, key)
}

func (s *Store) VerifyCredential(ctx context.Context, cid string) (registry.Verification, error) {
	c, err := s.credentialByAlias(ctx, cid)
	if err != nil {
		return registry.Verification{}, err
	}
	return registry.Verification{
		IsValid:  c.Status() == registry.StatusActive,
		Issuer:   c.Issuer,
		Receiver: c.Receiver,
		Metadata: c.Metadata,
	}, nil
}

func (s *Store) CredentialDetails(ctx context.Context, cid string, fieldsToShare []string) (registry.CredentialDetails, error) {
	c, err := s.credentialByAlias(ctx, cid)
	if err != nil {
		return registry.CredentialDetails{}, err
	}
	details := registry.CredentialDetails{
		CID:             c.CID,
		Issuer:          c.Issuer,
		Receiver:        c.Receiver,
		Metadata:        c.Metadata,
		MandatoryFields: c.MandatoryFields,
		RevokedFields:   c.RevokedFields,
		Status:          c.Status(),
		IsDeleted:       c.Deleted,
		Timestamp:       c.Timestamp,
	}
	if len(fieldsToShare) > 0 {
		meta, err := registry.ParseMetadata(c.Metadata)
		if err != nil {
			return registry.CredentialDetails{}, err
		}
		shared := make(map[string]string, len(fieldsToShare))
		for _, f := range fieldsToShare {
			if v, ok := meta[f]; ok {
				shared[f] = v
			}
		}
		details.SharedMetadata = shared
	}
	return details, nil
}

func (s *Store) CredentialIssuer(ctx context.Context, cid string) (string, error) {
	c, err := s.credentialByAlias(ctx, cid)
	if err != nil {
		return "", err
	}
	return c.Issuer, nil
}

func (s *Store) RevokedFields(ctx context.Context, cid string) ([]string, error) {
	c, err := s.credentialByAlias(ctx, cid)
	if err != nil {
		return nil, err
	}
	return c.RevokedFields, nil
}

func (s *Store) MandatoryFields(ctx context.Context, cid string) ([]string, error) {
	c, err := s.credentialByAlias(ctx, cid)
	if err != nil {
		return nil, err
	}
	return c.MandatoryFields, nil
}

func (s *Store) RevokeCredentialField(ctx context.Context, caller, cid, newCID, field, updatedMetadata string) (registry.Credential, error) {
	newCID = strings.TrimSpace(newCID)
	field = strings.TrimSpace(field)
	if newCID == "" || field == "" {
		return registry.Credential{}, registry.ErrFieldNotFound
	}
	updatedMeta, err := registry.ParseMetadata(updatedMetadata)
	if err != nil {
		return registry.Credential{}, err
	}
	if _, present := updatedMeta[field]; present {
		return registry.Credential{}, registry.ErrInvalidMetadata
	}

	var out registry.Credential
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := resolve(ctx, tx, cid)
		if err != nil {
			return err
		}
		c, err := getCredential(ctx, tx, cur)
		if err != nil {
			return err
		}
		if c.Issuer != caller {
			return registry.ErrNotIssuer
		}
		if c.Status() != registry.StatusActive {
			return registry.ErrNotActive
		}
		if slices.Contains(c.MandatoryFields, field) {
			return registry.ErrFieldMandatory
		}
		currentMeta, err := registry.ParseMetadata(c.Metadata)
		if err != nil {
			return err
		}
		if _, present := currentMeta[field]; !present {
			return registry.ErrFieldNotFound
		}
		if newCID == cur {
			return registry.ErrDuplicateFile
		}
		if _, err := getCredential(ctx, tx, newCID); err == nil {
			return registry.ErrDuplicateFile
		} else if !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		if rec, err := getFile(ctx, tx, newCID); err == nil && !rec.Deleted {
			return registry.ErrDuplicateFile
		} else if err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}

		revokedFields := append(slices.Clone(c.RevokedFields), field)
		_, err = tx.ExecContext(ctx,
			`UPDATE credentials SET cid = $1, metadata = $2, revoked_fields = $3 WHERE cid = $4`,
			newCID, updatedMetadata, mustJSON(revokedFields), cur)
		if err != nil {
			return fmt.Errorf("pg: re-key credential: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE files SET hash = $1 WHERE hash = $2`, newCID, cur); err != nil {
			return fmt.Errorf("pg: re-key custody record: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credential_aliases (old_cid, new_cid) VALUES ($1, $2)`, cur, newCID); err != nil {
			return fmt.Errorf("pg: insert alias: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE share_grants SET file_hash = $1 WHERE file_hash = $2`, newCID, cur); err != nil {
			return fmt.Errorf("pg: re-key grants: %w", err)
		}

		out = c
		out.CID = newCID
		out.Metadata = updatedMetadata
		out.RevokedFields = revokedFields
		return nil
	})
	if err != nil {
		return registry.Credential{}, err
	}
	return out, nil
}

func (s *Store) RevokeCredential(ctx context.Context, caller, cid string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		key, err := resolve(ctx, tx, cid)
		if err != nil {
			return err
		}
		c, err := getCredential(ctx, tx, key)
		if err != nil {
			return err
		}
		if c.Issuer != caller {
			return registry.ErrNotIssuer
		}
		if c.Deleted {
			return registry.ErrNotActive
		}
		if c.Revoked {
			return registry.ErrAlreadyRevoked
		}
		if _, err := tx.ExecContext(ctx, `UPDATE credentials SET revoked = TRUE WHERE cid = $1`, key); err != nil {
			return fmt.Errorf("pg: revoke credential: %w", err)
		}
		return nil
	})
}

func (s *Store) IssuedCredentials(ctx context.Context, issuer string) ([]registry.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE issuer_addr = $1 ORDER BY position`, issuer)
	if err != nil {
		return nil, fmt.Errorf("pg: list credentials: %w", err)
	}
	defer rows.Close()

	var out []registry.Credential
	for rows.Next() {
		var (
			c         registry.Credential
			mandatory []byte
			revoked   []byte
		)
		if err := rows.Scan(&c.CID, &c.Issuer, &c.Receiver, &c.Metadata, &mandatory, &revoked, &c.Revoked, &c.Deleted, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("pg: scan credential: %w", err)
		}
		if err := json.Unmarshal(mandatory, &c.MandatoryFields); err != nil {
			return nil, fmt.Errorf("pg: decode mandatory fields: %w", err)
		}
		if err := json.Unmarshal(revoked, &c.RevokedFields); err != nil {
			return nil, fmt.Errorf("pg: decode revoked fields: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ShareCredential(ctx context.Context, caller, cid, recipient string, allowedFields []string, duration time.Duration) (registry.ShareGrant, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return registry.ShareGrant{}, registry.ErrNotFound
	}
	if duration <= 0 {
		return registry.ShareGrant{}, registry.ErrInvalidDuration
	}

	var out registry.ShareGrant
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		key, err := resolve(ctx, tx, cid)
		if err != nil {
			return err
		}
		rec, err := getFile(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return registry.ErrNotFound
		}
		if rec.Owner != caller {
			return registry.ErrNotOwner
		}

		now := s.now()
		var (
			id        string
			fieldsRaw []byte
		)
		err = tx.QueryRowContext(ctx,
			`SELECT id, allowed_fields FROM share_grants
			 WHERE file_hash = $1 AND owner_addr = $2 AND recipient_addr = $3 AND expires_at > $4
			 ORDER BY created_at LIMIT 1`,
			key, caller, recipient, now).Scan(&id, &fieldsRaw)
		switch {
		case err == nil:
			var fields []string
			if err := json.Unmarshal(fieldsRaw, &fields); err != nil {
				return fmt.Errorf("pg: decode grant fields: %w", err)
			}
			for _, f := range allowedFields {
				if !slices.Contains(fields, f) {
					fields = append(fields, f)
				}
			}
			expiration := now.Add(duration)
			if _, err := tx.ExecContext(ctx,
				`UPDATE share_grants SET allowed_fields = $1, expires_at = $2 WHERE id = $3`,
				mustJSON(fields), expiration, id); err != nil {
				return fmt.Errorf("pg: merge grant: %w", err)
			}
			out = registry.ShareGrant{
				ID: id, FileHash: key, Owner: caller, Recipient: recipient,
				AllowedFields: fields, Expiration: expiration,
			}
			return nil
		case errors.Is(err, sql.ErrNoRows):
			out = registry.ShareGrant{
				ID:            ids.New(),
				FileHash:      key,
				Owner:         caller,
				Recipient:     recipient,
				AllowedFields: slices.Clone(allowedFields),
				Expiration:    now.Add(duration),
				CreatedAt:     now,
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO share_grants (id, file_hash, owner_addr, recipient_addr, allowed_fields, expires_at, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				out.ID, out.FileHash, out.Owner, out.Recipient, mustJSON(out.AllowedFields), out.Expiration, out.CreatedAt)
			if err != nil {
				return fmt.Errorf("pg: insert grant: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("pg: find grant: %w", err)
		}
	})
	if err != nil {
		return registry.ShareGrant{}, err
	}
	return out, nil
}

func (s *Store) grantsBy(ctx context.Context, column, address string) ([]registry.ShareGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_hash, owner_addr, recipient_addr, allowed_fields, expires_at, created_at
		 FROM share_grants WHERE `+column+` = $1 ORDER BY created_at`, address)
	if err != nil {
		return nil, fmt.Errorf("pg: list grants: %w", err)
	}
	defer rows.Close()

	var out []registry.ShareGrant
	for rows.Next() {
		var (
			g      registry.ShareGrant
			fields []byte
		)
		if err := rows.Scan(&g.ID, &g.FileHash, &g.Owner, &g.Recipient, &fields, &g.Expiration, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan grant: %w", err)
		}
		if err := json.Unmarshal(fields, &g.AllowedFields); err != nil {
			return nil, fmt.Errorf("pg: decode grant fields: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) SharedWith(ctx context.Context, recipient string) ([]registry.ShareGrant, error) {
	return s.grantsBy(ctx, "recipient_addr", recipient)
}

func (s *Store) SharedBy(ctx context.Context, owner string) ([]registry.ShareGrant, error) {
	return s.grantsBy(ctx, "owner_addr", owner)
}
