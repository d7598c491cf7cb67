// Package securestore keeps JSON values behind a reversible XOR and base64 transform.
// It only hides values from casual inspection and is not encryption.
package securestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/MoonPathBot/internal/repository"
)

var ErrNotFound = errors.New("value not found")

type Obfuscator struct {
	secret []byte
}

func NewObfuscator(secret string) *Obfuscator {
	return &Obfuscator{secret: []byte(secret)}
}

func (o *Obfuscator) xor(data []byte) []byte {
	out := make([]byte, len(data))
	if len(o.secret) == 0 {
		copy(out, data)
		return out
	}
	for i, b := range data {
		out[i] = b ^ o.secret[i%len(o.secret)]
	}
	return out
}

func (o *Obfuscator) Encode(plain []byte) string {
	return base64.StdEncoding.EncodeToString(o.xor(plain))
}

func (o *Obfuscator) Decode(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return o.xor(raw), nil
}

type Store struct {
	kv  repository.KV
	obf *Obfuscator
	log *slog.Logger
}

func New(kv repository.KV, obf *Obfuscator, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, obf: obf, log: log}
}

func (s *Store) Put(ctx context.Context, namespace, key string, value any) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, namespace, key, []byte(s.obf.Encode(plain))); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Get decodes the value under key into dst. ErrNotFound is returned when the key is absent.
func (s *Store) Get(ctx context.Context, namespace, key string, dst any) error {
	raw, err := s.kv.Get(ctx, namespace, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if raw == nil {
		return ErrNotFound
	}
	plain, err := s.obf.Decode(string(raw))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// GetOr returns the stored value, or def when it is missing or cannot be decoded.
func GetOr[T any](ctx context.Context, s *Store, namespace, key string, def T) T {
	var value T
	if err := s.Get(ctx, namespace, key, &value); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("read obfuscated value", "namespace", namespace, "key", key, "err", err)
		}
		return def
	}
	return value
}
