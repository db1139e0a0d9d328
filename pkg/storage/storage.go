// Package storage persists credentials, conversations and documents in a
// single bolt file, one bucket per dataset. Each value is a JSON document.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-go-golems/sidenote/pkg/conversation"
	"github.com/go-go-golems/sidenote/pkg/credentials"
	"github.com/go-go-golems/sidenote/pkg/documents"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCredentials   = []byte("credentials")
	bucketConversations = []byte("conversations")
	bucketDocuments     = []byte("documents")
	bucketMeta          = []byte("meta")

	keyActiveCredential = []byte("active_credential")
)

// DB implements credentials.Persister, conversation.Persister and
// documents.Persister.
type DB struct {
	db   *bolt.DB
	path string
}

var (
	_ credentials.Persister  = (*DB)(nil)
	_ conversation.Persister = (*DB)(nil)
	_ documents.Persister    = (*DB)(nil)
)

// Open opens or creates the database file, creating parent directories.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create directory for %s", path)
	}
	db, err := openBolt(path)
	if isCorrupt(err) {
		moved := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		log.Warn().Err(err).Str("path", path).Str("moved_to", moved).
			Msg("database is unreadable, starting with an empty one")
		if rerr := os.Rename(path, moved); rerr != nil {
			return nil, errors.Wrapf(rerr, "could not move aside corrupt database %s", path)
		}
		db, err = openBolt(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	log.Debug().Str("path", path).Msg("opened database")
	return &DB{db: db, path: path}, nil
}

func openBolt(path string) (*bolt.DB, error) {
	return bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
}

// isCorrupt reports errors for files that bolt cannot read as a database.
// Lock timeouts and permission errors are not corruption.
func isCorrupt(err error) bool {
	return errors.Is(err, bolt.ErrInvalid) ||
		errors.Is(err, bolt.ErrChecksum) ||
		errors.Is(err, bolt.ErrVersionMismatch)
}

func (d *DB) Path() string {
	return d.path
}

func (d *DB) Close() error {
	return d.db.Close()
}

// replaceBucket recreates name so that it holds exactly the given entries.
func replaceBucket(tx *bolt.Tx, name []byte, entries map[string]interface{}) error {
	if tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
	}
	b, err := tx.CreateBucket(name)
	if err != nil {
		return err
	}
	for k, v := range entries {
		enc, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "could not encode %s/%s", name, k)
		}
		if err := b.Put([]byte(k), enc); err != nil {
			return err
		}
	}
	return nil
}

// forEach decodes every value of bucket name into a fresh T. Malformed
// entries are skipped.
func forEach[T any](tx *bolt.Tx, name []byte, f func(k string, v T)) error {
	b := tx.Bucket(name)
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		var t T
		if err := json.Unmarshal(v, &t); err != nil {
			log.Warn().Err(err).Str("bucket", string(name)).Str("key", string(k)).Msg("skipping malformed entry")
			return nil
		}
		f(string(k), t)
		return nil
	})
}

// credentialRecord keeps a credential with its position, bolt iterates by key.
type credentialRecord struct {
	Index      int                    `json:"index"`
	Credential credentials.Credential `json:"credential"`
}

func (d *DB) LoadCredentials() ([]credentials.Credential, string, error) {
	var (
		records  []credentialRecord
		activeID string
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		if err := forEach(tx, bucketCredentials, func(_ string, r credentialRecord) {
			records = append(records, r)
		}); err != nil {
			return err
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			activeID = string(b.Get(keyActiveCredential))
		}
		return nil
	})
	if err != nil {
		return nil, "", errors.Wrap(err, "could not load credentials")
	}
	sortByIndex(records)
	ret := make([]credentials.Credential, 0, len(records))
	for _, r := range records {
		ret = append(ret, r.Credential)
	}
	return ret, activeID, nil
}

func (d *DB) SaveCredentials(creds []credentials.Credential, activeID string) error {
	entries := make(map[string]interface{}, len(creds))
	for i, c := range creds {
		entries[c.ID] = credentialRecord{Index: i, Credential: c}
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := replaceBucket(tx, bucketCredentials, entries); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		return meta.Put(keyActiveCredential, []byte(activeID))
	})
}

func sortByIndex(records []credentialRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Index < records[j].Index
	})
}

func (d *DB) LoadConversations() ([]conversation.Conversation, error) {
	var ret []conversation.Conversation
	err := d.db.View(func(tx *bolt.Tx) error {
		return forEach(tx, bucketConversations, func(k string, c conversation.Conversation) {
			if c.ID == "" {
				c.ID = k
			}
			ret = append(ret, c)
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not load conversations")
	}
	return ret, nil
}

func (d *DB) SaveConversations(convs []conversation.Conversation) error {
	entries := make(map[string]interface{}, len(convs))
	for _, c := range convs {
		entries[c.ID] = c
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return replaceBucket(tx, bucketConversations, entries)
	})
}

func (d *DB) LoadDocuments() (map[string][]documents.Document, error) {
	ret := map[string][]documents.Document{}
	err := d.db.View(func(tx *bolt.Tx) error {
		return forEach(tx, bucketDocuments, func(k string, docs []documents.Document) {
			ret[k] = docs
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not load documents")
	}
	return ret, nil
}

func (d *DB) SaveDocuments(docs map[string][]documents.Document) error {
	entries := make(map[string]interface{}, len(docs))
	for k, v := range docs {
		entries[k] = v
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return replaceBucket(tx, bucketDocuments, entries)
	})
}
