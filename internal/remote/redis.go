package remote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	// Redis server address.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLS config.
	TLSConfig *tls.Config
	// Prefix is prepended to every document key and channel.
	Prefix string
	// Logger for subscription activity.
	Logger *log.Logger
}

// DefaultRedisOptions returns options for a local Redis server.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Address: "localhost:6379",
		Prefix:  "rostersync:",
	}
}

// updatedField holds the server-assigned write time, in microseconds.
const updatedField = "_updatedAt"

// writeScript merge-writes one or more documents and publishes a
// notification per document. Every field value arrives pre-encoded as JSON.
// The write time comes from the Redis server clock.
//
// KEYS: document keys. ARGV[1]: "create" or "merge". ARGV[i+1]: JSON object
// of field -> encoded value for KEYS[i].
var writeScript = redis.NewScript(`
if ARGV[1] == 'create' then
	for i, key in ipairs(KEYS) do
		if redis.call('EXISTS', key) == 1 then
			return 0
		end
	end
end
local t = redis.call('TIME')
local stamp = string.format('%d%06d', tonumber(t[1]), tonumber(t[2]))
for i, key in ipairs(KEYS) do
	local fields = cjson.decode(ARGV[i + 1])
	for f, v in pairs(fields) do
		redis.call('HSET', key, f, v)
	end
	redis.call('HSET', key, '` + updatedField + `', stamp)
	redis.call('PUBLISH', key, stamp)
end
return 1
`)

// RedisBackend is a Backend stored in Redis.
//
// Each document is a hash whose fields hold JSON-encoded values. Writes run
// as Lua scripts so merge, stamp and publish happen atomically, and a batch
// touches all of its documents in one script. Subscriptions use PubSub; the
// snapshot is re-read after every (re)subscribe, so a dropped connection
// resumes without the caller doing anything.
type RedisBackend struct {
	client  *redis.Client
	prefix  string
	logger  *log.Logger
	isOwner bool
}

// NewRedisBackend opens a new Redis connection.
func NewRedisBackend(options RedisOptions) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	})
	b := NewRedisBackendFromClient(client, options.Prefix, options.Logger)
	b.isOwner = true
	return b
}

// NewRedisBackendFromClient wraps an existing client. The client is not
// closed by Close.
func NewRedisBackendFromClient(client *redis.Client, prefix string, logger *log.Logger) *RedisBackend {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &RedisBackend{client: client, prefix: prefix, logger: logger}
}

// Ping tests connectivity.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) key(path string) string {
	return r.prefix + path
}

// Get implements Backend.Get.
func (r *RedisBackend) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ValidatePath(path); err != nil {
		return Snapshot{}, err
	}
	fields, err := r.client.HGetAll(ctx, r.key(path)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return decodeHash(path, fields)
}

func decodeHash(path string, fields map[string]string) (Snapshot, error) {
	if len(fields) == 0 {
		return Snapshot{Path: path}, nil
	}
	snap := Snapshot{Path: path, Data: Document{}}
	for f, raw := range fields {
		if f == updatedField {
			micros, err := strconv.ParseInt(raw, 10, 64)
			if err == nil {
				snap.UpdateTime = time.UnixMicro(micros).UTC()
			}
			continue
		}
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return Snapshot{}, fmt.Errorf("corrupt field %s of %s: %w", f, path, err)
		}
		snap.Data[f] = v
	}
	return snap, nil
}

func encodeFields(data Document) (string, error) {
	fields := make(map[string]string, len(data))
	for f, v := range data {
		if f == updatedField {
			return "", fmt.Errorf("field %q is reserved", updatedField)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode field %s: %w", f, err)
		}
		fields[f] = string(raw)
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (r *RedisBackend) write(ctx context.Context, mode string, writes map[string]Document) (bool, error) {
	keys := make([]string, 0, len(writes))
	args := make([]any, 0, len(writes)+1)
	args = append(args, mode)
	for path, data := range writes {
		if err := ValidatePath(path); err != nil {
			return false, err
		}
		encoded, err := encodeFields(data)
		if err != nil {
			return false, err
		}
		keys = append(keys, r.key(path))
		args = append(args, encoded)
	}
	if len(keys) == 0 {
		return true, nil
	}

	n, err := writeScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to write documents: %w", err)
	}
	return n == 1, nil
}

// Set implements Backend.Set.
func (r *RedisBackend) Set(ctx context.Context, path string, data Document) error {
	_, err := r.write(ctx, "merge", map[string]Document{path: data})
	return err
}

// Create implements Backend.Create.
func (r *RedisBackend) Create(ctx context.Context, path string, data Document) (bool, error) {
	return r.write(ctx, "create", map[string]Document{path: data})
}

// BatchSet implements Backend.BatchSet.
//
// All keys are written by a single script. With Redis Cluster the keys must
// share a hash slot; use a hash-tagged Prefix such as "{org}:".
func (r *RedisBackend) BatchSet(ctx context.Context, writes map[string]Document) error {
	_, err := r.write(ctx, "merge", writes)
	return err
}

// Subscribe implements Backend.Subscribe.
func (r *RedisBackend) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	key := r.key(path)
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ps := r.client.Subscribe(subCtx, key)

	sub := newSubscriber(fn, func() {
		cancel()
		_ = ps.Close()
	})

	go r.receive(subCtx, ps, path, sub)
	return sub, nil
}

// receive turns PubSub traffic into snapshots. Every subscribe confirmation
// (initial and after each reconnect) and every notification triggers a fresh
// read of the document.
func (r *RedisBackend) receive(ctx context.Context, ps *redis.PubSub, path string, sub *subscriber) {
	ch := ps.ChannelWithSubscriptions(redis.WithChannelSize(100))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind != "subscribe" {
					continue
				}
			case *redis.Message:
			default:
				continue
			}
			if sub.stopped() {
				return
			}

			readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			snap, err := r.Get(readCtx, path)
			cancel()
			if err != nil {
				r.logger.Printf("WARNING: subscription read of %s failed: %v", path, err)
				continue
			}
			sub.push(snap)
		}
	}
}

// Close closes the Redis connection if this backend opened it.
func (r *RedisBackend) Close() error {
	if !r.isOwner || r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
