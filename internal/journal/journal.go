// Package journal is an append-only, sharded message log kept in Couchbase.
// Producers append to (topic, shard) logs; readers tail them by offset and
// may keep a per-subscriber cursor.
package journal

import (
	"fmt"
	"time"

	"streambridge/internal/couchbase"
)

type Message struct {
	ID          string     `json:"id"`
	Topic       string     `json:"topic"`
	Shard       int        `json:"shard"`
	Offset      uint64     `json:"offset"`
	Event       string     `json:"event"`
	Payload     any        `json:"payload"`
	PublishTime *time.Time `json:"publishTime,omitempty"`

	couchbase.Cas `json:"-"`
}

// Offset is the head document of a (topic, shard) log: N is the offset the
// next appended message gets.
type Offset struct {
	ID string `json:"id"`
	N  uint64 `json:"n"`

	couchbase.Cas `json:"-"`
}

// Cursor is the next offset a named subscriber will read.
type Cursor struct {
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Sub    string `json:"sub"`
	Shard  int    `json:"shard"`
	Offset uint64 `json:"offset"`

	couchbase.Cas `json:"-"`
}

// Entry is one event handed to Append.
type Entry struct {
	Event   string
	Payload any
}

func MessageKey(topic string, shard int, offset uint64) string {
	return fmt.Sprintf("message::%s::%d::%d", topic, shard, offset)
}

func OffsetKey(topic string, shard int) string {
	return fmt.Sprintf("offset::%s::%d", topic, shard)
}

func CursorKey(topic, sub string, shard int) string {
	return fmt.Sprintf("cursor::%s::%s::%d", topic, sub, shard)
}
