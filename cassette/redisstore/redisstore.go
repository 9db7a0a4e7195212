// Package redisstore keeps each cassette as a Redis list of JSON encoded interactions, so
// recorders in several processes can append to the same cassette.
package redisstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/config/secret"
)

const DefaultPrefix = "vcr:cassette:"

type Options struct {
	Host     string
	Port     int
	User     string
	Password secret.String
	DB       int

	// Optional
	TLS    bool
	CAFunc func() *x509.CertPool
}

// NewClient will only construct a new Redis client with the provided options. It is the caller's
// responsibility to close it at the right time.
func NewClient(o Options) *redis.Client {
	opts := &redis.Options{
		Addr:     net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Username: o.User,
		Password: o.Password.Raw(),
		DB:       o.DB,
	}
	if o.TLS {
		var rootCAs *x509.CertPool
		if o.CAFunc != nil {
			rootCAs = o.CAFunc()
		}

		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: o.Host,
			RootCAs:    rootCAs,
		}
	}

	return redis.NewClient(opts)
}

type Store struct {
	client redis.UniversalClient
	prefix string
}

// New returns a store keeping cassettes under prefix, DefaultPrefix when empty.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

func (s *Store) Save(ctx context.Context, name string, interactions []cassette.Interaction) error {
	values, err := encode(interactions...)
	if err != nil {
		return err
	}
	key := s.key(name)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(values) > 0 {
			p.RPush(ctx, key, values...)
		}
		return nil
	})
	return err
}

func (s *Store) Append(ctx context.Context, name string, i cassette.Interaction) error {
	values, err := encode(i)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.key(name), values...).Err()
}

func (s *Store) LoadAll(ctx context.Context, name string) ([]cassette.Interaction, error) {
	raw, err := s.client.LRange(ctx, s.key(name), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	interactions := make([]cassette.Interaction, 0, len(raw))
	for n, r := range raw {
		var i cassette.Interaction
		if err := json.Unmarshal([]byte(r), &i); err != nil {
			return nil, fmt.Errorf("decode interaction %d: %w", n, err)
		}
		interactions = append(interactions, i)
	}
	return interactions, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	return s.client.Del(ctx, s.key(name)).Err()
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func encode(interactions ...cassette.Interaction) ([]interface{}, error) {
	values := make([]interface{}, 0, len(interactions))
	for _, i := range interactions {
		b, err := json.Marshal(i)
		if err != nil {
			return nil, err
		}
		values = append(values, b)
	}
	return values, nil
}
