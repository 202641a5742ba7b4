// Package sink implements the registry's optional write-through mirror,
// backed by dgraph-io/badger, using a single-byte key-prefix scheme for
// distinct record types sharing one keyspace.
package sink

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/orneryd/registry/internal/model"
	"github.com/orneryd/registry/internal/rbac"
)

const (
	prefixEntity byte = 0x01 // entity:id -> Entity
	prefixEdge   byte = 0x02 // edge:from:kind:to -> Edge
	prefixRBAC   byte = 0x03 // rbac:scope:credential:time -> Record
)

// BadgerSink mirrors applied writes into a badger key-value store. It
// never participates in Raft consensus or registry correctness: the engine
// discards any error returned here.
type BadgerSink struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database rooted at dataDir.
func Open(dataDir string) (*BadgerSink, error) {
	opts := badger.DefaultOptions(dataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("sink: failed to open badger db: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

// Close releases the underlying badger handles.
func (s *BadgerSink) Close() error { return s.db.Close() }

func entityKey(id string) []byte { return append([]byte{prefixEntity}, []byte(id)...) }

func edgeKey(e model.Edge) []byte {
	return append([]byte{prefixEdge}, []byte(fmt.Sprintf("%s:%s:%s", e.From, e.Kind, e.To))...)
}

func rbacKey(r *rbac.Record) []byte {
	return append([]byte{prefixRBAC}, []byte(fmt.Sprintf("%s:%s:%d", r.Scope, r.Credential, r.Time.UnixNano()))...)
}

// WriteEntity mirrors an applied entity.
func (s *BadgerSink) WriteEntity(e *model.Entity) error {
	return s.put(entityKey(e.ID), e)
}

// WriteEdge mirrors an applied edge.
func (s *BadgerSink) WriteEdge(e model.Edge) error {
	return s.put(edgeKey(e), e)
}

// WriteRBACRecord mirrors an applied RBAC grant/revoke record.
func (s *BadgerSink) WriteRBACRecord(r *rbac.Record) error {
	return s.put(rbacKey(r), r)
}

func (s *BadgerSink) put(key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sink: failed to encode value: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, b)
	})
}
