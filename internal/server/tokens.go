package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketTokens = []byte("tokens")

// BoltTokenStore implements TokenStore on a bbolt database.
type BoltTokenStore struct {
	db *bolt.DB
}

var _ TokenStore = (*BoltTokenStore)(nil)

// NewBoltTokenStore opens or creates the token database at the given path.
func NewBoltTokenStore(dbPath string) (*BoltTokenStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create token directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open token database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTokens)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltTokenStore{db: db}, nil
}

// Close releases the token database.
func (s *BoltTokenStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateToken mints a new random token. Only the hash is persisted; the raw
// token is returned once and never stored.
func (s *BoltTokenStore) CreateToken(desc, permission string) (string, *TokenInfo, error) {
	if permission != "ro" && permission != "rw" {
		return "", nil, fmt.Errorf("permission must be \"ro\" or \"rw\"")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	rawToken := hex.EncodeToString(raw)

	info := &TokenInfo{
		ID:         uuid.New().String(),
		TokenHash:  HashToken(rawToken),
		Desc:       desc,
		Permission: permission,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshal token: %w", err)
		}
		return tx.Bucket(bucketTokens).Put([]byte(info.ID), data)
	})
	if err != nil {
		return "", nil, err
	}
	return rawToken, info, nil
}

// GetByHash finds the token with the given hash. Returns (nil, nil) when no
// token matches.
func (s *BoltTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	var found *TokenInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var info TokenInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("unmarshal token: %w", err)
			}
			if info.TokenHash == hash {
				found = &info
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// UpdateLastUsed stamps the token's last use time.
func (s *BoltTokenStore) UpdateLastUsed(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("token not found: %s", id)
		}

		var info TokenInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("unmarshal token: %w", err)
		}
		info.LastUsedAt = time.Now().UTC().Format(time.RFC3339)

		updated, err := json.Marshal(&info)
		if err != nil {
			return fmt.Errorf("marshal token: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
}

// ListTokens returns all tokens sorted by creation time.
func (s *BoltTokenStore) ListTokens() ([]*TokenInfo, error) {
	var tokens []*TokenInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var info TokenInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("unmarshal token: %w", err)
			}
			tokens = append(tokens, &info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt < tokens[j].CreatedAt
	})
	return tokens, nil
}

// DeleteToken removes a token by id.
func (s *BoltTokenStore) DeleteToken(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("token not found: %s", id)
		}
		return bucket.Delete([]byte(id))
	})
}
