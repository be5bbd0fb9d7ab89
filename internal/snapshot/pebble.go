package snapshot

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/encoding/json"
	"matchcore.com/internal/matching"
)

// PebbleStore 订单簿快照，一个 market 一个 key，只保留最新一份
type PebbleStore struct {
	db *pebble.DB
}

type record struct {
	Seq  uint64                `json:"seq"`
	Book matching.BookSnapshot `json:"book"`
}

func Open(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// keys: snap:<market>
func snapKey(market string) []byte { return append([]byte("snap:"), market...) }

func (s *PebbleStore) Save(market string, seq uint64, snap matching.BookSnapshot) error {
	val, err := json.Marshal(record{Seq: seq, Book: snap})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", market, err)
	}
	if err := s.db.Set(snapKey(market), val, pebble.Sync); err != nil {
		return fmt.Errorf("save snapshot %s: %w", market, err)
	}
	return nil
}

// Load 没有快照时 ok=false
func (s *PebbleStore) Load(market string) (uint64, matching.BookSnapshot, bool, error) {
	val, closer, err := s.db.Get(snapKey(market))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, matching.BookSnapshot{}, false, nil
	}
	if err != nil {
		return 0, matching.BookSnapshot{}, false, fmt.Errorf("get snapshot %s: %w", market, err)
	}
	defer closer.Close()

	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return 0, matching.BookSnapshot{}, false, fmt.Errorf("decode snapshot %s: %w", market, err)
	}
	return rec.Seq, rec.Book, true, nil
}

// Delete 删除某个 market 的快照，下次恢复全靠 cmd.wal
func (s *PebbleStore) Delete(market string) error {
	return s.db.Delete(snapKey(market), pebble.Sync)
}
