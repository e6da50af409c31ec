package auth

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ClientKey is one accepted relay API key.
type ClientKey struct {
	// Name identifies the client in logs. Keys listed without a name are
	// called "key-<line>".
	Name string
	Key  string
}

// SecretSource resolves the secret that holds the key list.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// KeySet validates client keys. Keys are indexed by digest so lookups do
// not compare the raw key byte by byte.
type KeySet struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte]*ClientKey
}

// NewKeySet returns a set holding keys.
func NewKeySet(keys []ClientKey) *KeySet {
	s := &KeySet{}
	s.Replace(keys)
	return s
}

// LoadKeySet reads and parses the key list stored in secret name.
func LoadKeySet(ctx context.Context, source SecretSource, name string) (*KeySet, error) {
	s := &KeySet{}
	if err := s.Reload(ctx, source, name); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the keys with the current contents of secret name. On
// error the previous keys stay in place.
func (s *KeySet) Reload(ctx context.Context, source SecretSource, name string) error {
	raw, err := source.GetSecret(ctx, name)
	if err != nil {
		return fmt.Errorf("load relay keys: %w", err)
	}
	keys, err := ParseKeys(raw)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("secret %q holds no keys", name)
	}
	s.Replace(keys)
	return nil
}

// Replace swaps the key set atomically.
func (s *KeySet) Replace(keys []ClientKey) {
	m := make(map[[sha256.Size]byte]*ClientKey, len(keys))
	for i := range keys {
		k := keys[i]
		m[sha256.Sum256([]byte(k.Key))] = &k
	}

	s.mu.Lock()
	s.keys = m
	s.mu.Unlock()
}

// Validate returns the client owning key.
func (s *KeySet) Validate(key string) (*ClientKey, error) {
	if key == "" {
		return nil, errors.New("empty API key")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.keys[sha256.Sum256([]byte(key))]
	if !ok {
		return nil, errors.New("invalid API key")
	}
	return info, nil
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// ParseKeys parses one key per line. Blank lines and lines starting with
// '#' are skipped; "name:key" names the client.
func ParseKeys(raw string) ([]ClientKey, error) {
	var keys []ClientKey
	seen := make(map[string]bool)

	sc := bufio.NewScanner(strings.NewReader(raw))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		k := ClientKey{Name: fmt.Sprintf("key-%d", line), Key: text}
		if name, key, ok := strings.Cut(text, ":"); ok {
			k.Name, k.Key = strings.TrimSpace(name), strings.TrimSpace(key)
		}
		if k.Key == "" || k.Name == "" {
			return nil, fmt.Errorf("line %d: empty key or name", line)
		}
		if seen[k.Key] {
			return nil, fmt.Errorf("line %d: duplicate key", line)
		}
		seen[k.Key] = true
		keys = append(keys, k)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
