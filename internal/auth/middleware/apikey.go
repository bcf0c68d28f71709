package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type KeyType string

const (
	KeyLive KeyType = "live"
	KeyTest KeyType = "test"
)

const (
	keyPrefix    = "sk_"
	minKeyLength = 20
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKey is a stored key. The plaintext is only ever returned once, by Create.
type APIKey struct {
	ID          string
	UserID      string
	WorkspaceID string
	Type        KeyType
	DisplayKey  string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// APIKeyStore issues and verifies keys of the form sk_<type>_<id>_<secret>. Only a bcrypt hash
// of the secret is stored; the id locates the row.
type APIKeyStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db, now: time.Now}
}

func (s *APIKeyStore) Create(ctx context.Context, userID, workspaceID string, typ KeyType) (string, APIKey, error) {
	if userID == "" {
		return "", APIKey{}, errors.New("user id required")
	}
	if typ != KeyLive && typ != KeyTest {
		return "", APIKey{}, fmt.Errorf("unknown key type %q", typ)
	}
	id, err := randomHex(8)
	if err != nil {
		return "", APIKey{}, err
	}
	secret, err := randomHex(24)
	if err != nil {
		return "", APIKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", APIKey{}, err
	}
	plain := keyPrefix + string(typ) + "_" + id + "_" + secret
	k := APIKey{
		ID:          id,
		UserID:      userID,
		WorkspaceID: workspaceID,
		Type:        typ,
		DisplayKey:  keyPrefix + string(typ) + "_" + id + "_****" + secret[len(secret)-4:],
		CreatedAt:   s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO api_keys (id,user_id,workspace_id,key_type,display_key,hashed_key,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		k.ID, k.UserID, k.WorkspaceID, string(k.Type), k.DisplayKey, string(hash), k.CreatedAt.UnixMilli())
	if err != nil {
		return "", APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return plain, k, nil
}

// Authenticate resolves a plaintext key to its owner.
func (s *APIKeyStore) Authenticate(ctx context.Context, raw string) (Principal, error) {
	typ, id, secret, err := parseKey(raw)
	if err != nil {
		return Principal{}, err
	}
	var userID, workspaceID, storedType, hash string
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, workspace_id, key_type, hashed_key FROM api_keys WHERE id=$1`, id,
	).Scan(&userID, &workspaceID, &storedType, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Principal{}, ErrInvalidAPIKey
	}
	if err != nil {
		return Principal{}, fmt.Errorf("lookup api key: %w", err)
	}
	if KeyType(storedType) != typ {
		return Principal{}, ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return Principal{}, ErrInvalidAPIKey
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at=$1 WHERE id=$2`, s.now().UnixMilli(), id); err != nil {
		log.Warn().Err(err).Str("key_id", id).Msg("could not record api key use")
	}
	return Principal{OwnerID: userID, WorkspaceID: workspaceID, Via: ViaAPIKey}, nil
}

func (s *APIKeyStore) Get(ctx context.Context, id string) (APIKey, error) {
	var (
		k       APIKey
		typ     string
		created int64
		last    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, workspace_id, key_type, display_key, created_at, last_used_at FROM api_keys WHERE id=$1`, id,
	).Scan(&k.ID, &k.UserID, &k.WorkspaceID, &typ, &k.DisplayKey, &created, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrInvalidAPIKey
	}
	if err != nil {
		return APIKey{}, err
	}
	k.Type = KeyType(typ)
	k.CreatedAt = time.UnixMilli(created).UTC()
	if last.Valid {
		t := time.UnixMilli(last.Int64).UTC()
		k.LastUsedAt = &t
	}
	return k, nil
}

func parseKey(raw string) (typ KeyType, id, secret string, err error) {
	if !strings.HasPrefix(raw, keyPrefix) || len(raw) < minKeyLength {
		return "", "", "", fmt.Errorf("%w: format", ErrInvalidAPIKey)
	}
	parts := strings.SplitN(raw, "_", 4)
	if len(parts) != 4 || parts[2] == "" || parts[3] == "" {
		return "", "", "", fmt.Errorf("%w: format", ErrInvalidAPIKey)
	}
	typ = KeyType(parts[1])
	if typ != KeyLive && typ != KeyTest {
		return "", "", "", fmt.Errorf("%w: type", ErrInvalidAPIKey)
	}
	return typ, parts[2], parts[3], nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
