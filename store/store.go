// Package store persists generated votes in leveldb.
package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spacemeshos/go-scale"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/spacemeshos/mbf/logging"
	"github.com/spacemeshos/mbf/mbf"
	"github.com/spacemeshos/mbf/vote"
)

var ErrNotFound = leveldb.ErrNotFound

const (
	keyPrefix  = "vote/"
	maxUnitLen = 1024
)

// Record is a stored vote with the unit and variant it was computed for.
type Record struct {
	UnitID  string
	Variant mbf.Variant
	Vote    *vote.Vote
}

// Key returns the database key of a vote: the unit identifier and the hex nonce.
func Key(unitID string, nonce []byte) string {
	return unitID + "/" + hex.EncodeToString(nonce)
}

func (r *Record) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, []byte(r.UnitID), maxUnitLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, uint64(r.Variant))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := r.Vote.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Record) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, maxUnitLen)
		if err != nil {
			return total, err
		}
		total += n
		r.UnitID = string(field)
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		if field > math.MaxUint8 {
			return total, fmt.Errorf("variant %d out of range", field)
		}
		r.Variant = mbf.Variant(field)
	}
	{
		r.Vote = &vote.Vote{}
		n, err := r.Vote.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

type Store struct {
	db *leveldb.DB
}

func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores rec under Key(rec.UnitID, rec.Vote.Nonce) and returns the key.
func (s *Store) Put(ctx context.Context, rec *Record) (string, error) {
	if rec.Vote == nil {
		return "", errors.New("record has no vote")
	}
	if strings.Contains(rec.UnitID, "/") {
		return "", fmt.Errorf("unit id %q contains '/'", rec.UnitID)
	}
	var buf bytes.Buffer
	if _, err := rec.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return "", fmt.Errorf("failed serializing vote: %w", err)
	}
	key := Key(rec.UnitID, rec.Vote.Nonce)
	if err := s.db.Put([]byte(keyPrefix+key), buf.Bytes(), &opt.WriteOptions{Sync: true}); err != nil {
		return "", fmt.Errorf("storing vote in DB: %w", err)
	}
	logging.FromContext(ctx).Debug("stored vote", zap.String("key", key), zap.Int("size", buf.Len()))
	return key, nil
}

func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	data, err := s.db.Get([]byte(keyPrefix+key), nil)
	if err != nil {
		return nil, fmt.Errorf("get vote %s from DB: %w", key, err)
	}
	rec := &Record{}
	if _, err := rec.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return nil, fmt.Errorf("failed to deserialize vote %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.Delete([]byte(keyPrefix+key), nil); err != nil {
		return fmt.Errorf("deleting vote %s: %w", key, err)
	}
	return nil
}

// Keys lists stored vote keys in order. A non-empty unitID restricts the
// listing to that unit's votes.
func (s *Store) Keys(ctx context.Context, unitID string) ([]string, error) {
	prefix := keyPrefix
	if unitID != "" {
		prefix += unitID + "/"
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, strings.TrimPrefix(string(iter.Key()), keyPrefix))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating votes: %w", err)
	}
	return keys, nil
}
