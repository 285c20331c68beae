package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const (
	accountKeyPrefix = "account:v1:"
	maxTxRetries     = 10
)

type redisAccount struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash"`
	Salt         string    `json:"salt"`
	Verified     bool      `json:"verified"`
	PendingCode  string    `json:"pending_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	VerifiedAt   time.Time `json:"verified_at,omitempty"`
}

// RedisRepository implements Repository with one JSON document per account.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository builds a Redis-backed account repository.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func accountKey(email string) string {
	return accountKeyPrefix + email
}

// Create stores the account with SETNX so concurrent registrations of the
// same email cannot both succeed.
func (r *RedisRepository) Create(ctx context.Context, account Account) error {
	payload, err := json.Marshal(redisAccount(account))
	if err != nil {
		return oops.With("operation", "encode account").Wrap(err)
	}
	created, err := r.client.SetNX(ctx, accountKey(account.Email), payload, 0).Result()
	if err != nil {
		return oops.With("operation", "setnx account").With("email", account.Email).Wrap(err)
	}
	if !created {
		return ErrAccountExists
	}
	return nil
}

// FindByEmail loads and decodes an account.
func (r *RedisRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	raw, err := r.client.Get(ctx, accountKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, oops.With("operation", "get account").With("email", email).Wrap(err)
	}
	return decodeAccount(raw)
}

// Update runs fn inside a WATCH transaction, retrying when another writer
// touched the key first.
func (r *RedisRepository) Update(ctx context.Context, email string, fn func(*Account) error) (Account, error) {
	key := accountKey(email)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var (
			updated Account
			fnErr   error
		)
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrAccountNotFound
				}
				return err
			}
			account, err := decodeAccount(raw)
			if err != nil {
				return err
			}
			if fnErr = fn(&account); fnErr != nil {
				return fnErr
			}
			payload, err := json.Marshal(redisAccount(account))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			if err == nil {
				updated = account
			}
			return err
		}, key)

		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case fnErr != nil:
			return Account{}, fnErr
		case errors.Is(err, ErrAccountNotFound):
			return Account{}, ErrAccountNotFound
		default:
			return Account{}, oops.With("operation", "update account").With("email", email).Wrap(err)
		}
	}
	return Account{}, oops.With("operation", "update account").With("email", email).
		Errorf("transaction retries exhausted after %d attempts", maxTxRetries)
}

func decodeAccount(raw []byte) (Account, error) {
	var stored redisAccount
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Account{}, oops.With("operation", "decode account").Wrap(err)
	}
	return Account(stored), nil
}
