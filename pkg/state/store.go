package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/decode"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// State is the persisted bookmark document:
//
//	{"bookmarks": {"groups": {"replication_key": "modified", "replication_key_value": "..."}}}
type State struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// Bookmark is the replication position of one resource.
type Bookmark struct {
	ReplicationKey string `json:"replication_key"`
	Value          any    `json:"replication_key_value"`
}

// Encode renders s as JSON. Timestamps are written as RFC3339Nano strings
// and numbers keep their exact digits.
func Encode(s State) ([]byte, error) {
	out := State{Bookmarks: make(map[string]Bookmark, len(s.Bookmarks))}
	for name, b := range s.Bookmarks {
		out.Bookmarks[name] = Bookmark{ReplicationKey: b.ReplicationKey, Value: encodeValue(b.Value)}
	}
	return json.Marshal(out)
}

// encodeValue renders a replication value the way it is persisted.
func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return json.Number(t.String())
	default:
		return v
	}
}

// Decode parses a state document. Empty input is an empty state.
func Decode(data []byte) (State, error) {
	s := State{Bookmarks: make(map[string]Bookmark)}
	if len(data) == 0 {
		return s, nil
	}

	doc, err := decode.Parse(data)
	if err != nil {
		return s, fmt.Errorf("parse state: %w", err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return s, fmt.Errorf("parse state: document is not an object")
	}

	raw, _ := root["bookmarks"].(map[string]any)
	for name, entry := range raw {
		fields, ok := entry.(map[string]any)
		if !ok {
			return s, fmt.Errorf("parse state: bookmark %q is not an object", name)
		}
		key, _ := fields["replication_key"].(string)
		s.Bookmarks[name] = Bookmark{ReplicationKey: key, Value: fields["replication_key_value"]}
	}
	return s, nil
}

// Store loads and saves the state between runs.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// FileStore keeps the state in a local JSON file.
type FileStore struct {
	Path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the state file. A missing file is an empty state.
func (f *FileStore) Load(ctx context.Context) (State, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return State{Bookmarks: make(map[string]Bookmark)}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file: %w", err)
	}
	return Decode(data)
}

// Save writes the state file atomically.
func (f *FileStore) Save(ctx context.Context, s State) error {
	data, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// DefaultRedisKey is the key used when none is configured.
const DefaultRedisKey = "tap-searchstax:state"

// RedisStore keeps the state under a single redis key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store on client. An empty key uses DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load reads the state. A missing key is an empty state.
func (r *RedisStore) Load(ctx context.Context) (State, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{Bookmarks: make(map[string]Bookmark)}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("redis get state: %w", err)
	}
	return Decode(data)
}

// Save writes the state without expiry.
func (r *RedisStore) Save(ctx context.Context, s State) error {
	data, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}
