// Package hoststore keeps the history of hosts that socket sessions connected to.
package hoststore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
)

var ErrNoHosts = errors.New("no host has been connected yet")

const keyPrefix = "hosts/"

type Host struct {
	Host        string    `json:"host"`
	Port        uint16    `json:"port"`
	Connections int       `json:"connections"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Config returns a socket transport config for h.
func (h Host) Config() transport.Config {
	return transport.Config{
		Kind:           transport.KindSocket,
		Host:           h.Host,
		Port:           h.Port,
		ConnectTimeout: transport.DefaultConnectTimeout,
	}
}

type Store struct {
	db  *badger.DB
	now func() time.Time
}

func New(db *badger.DB, now func() time.Time) *Store {
	return &Store{
		db:  db,
		now: now,
	}
}

func (s *Store) key(cfg transport.Config) []byte {
	return []byte(keyPrefix + cfg.Address())
}

// Touch records a successful connection to the host of cfg.
func (s *Store) Touch(cfg transport.Config) (Host, error) {
	var host Host
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := s.key(cfg)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &host)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal host: %w", err)
			}
		}
		host.Host = cfg.Host
		host.Port = cfg.Port
		host.Connections++
		if host.FirstSeenAt.IsZero() {
			host.FirstSeenAt = now
		}
		host.LastSeenAt = now
		b, err := json.Marshal(host)
		if err != nil {
			return fmt.Errorf("failed to marshal host: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return Host{}, fmt.Errorf("failed to record host: %w", err)
	}
	return host, nil
}

// List returns all known hosts, most recently connected first.
func (s *Store) List() ([]Host, error) {
	var hosts []Host
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte(keyPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var host Host
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &host)
			})
			if err != nil {
				return err
			}
			hosts = append(hosts, host)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	sort.SliceStable(hosts, func(i, j int) bool {
		return hosts[i].LastSeenAt.After(hosts[j].LastSeenAt)
	})
	return hosts, nil
}

// Last returns the most recently connected host.
func (s *Store) Last() (Host, error) {
	hosts, err := s.List()
	if err != nil {
		return Host{}, err
	}
	if len(hosts) == 0 {
		return Host{}, ErrNoHosts
	}
	return hosts[0], nil
}

// Forget removes the host of cfg from the history.
func (s *Store) Forget(cfg transport.Config) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(cfg))
	})
	if err != nil {
		return fmt.Errorf("failed to forget host: %w", err)
	}
	return nil
}
