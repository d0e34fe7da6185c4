package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	sessionKeyPrefix    = "session_"
	credentialKeyPrefix = "credential_"
)

// LevelDB is the embedded store implementation.
type LevelDB struct {
	db *leveldb.DB
}

var _ Store = (*LevelDB)(nil)

// Open opens (or creates) the wallet database under dataDir.
func Open(dataDir string) (*LevelDB, error) {
	dbPath := filepath.Join(dataDir, "wallet")

	options := &opt.Options{
		BlockCacheCapacity: 8 * 1024 * 1024,
		WriteBuffer:        4 * 1024 * 1024,
	}
	db, err := leveldb.OpenFile(dbPath, options)
	if err != nil {
		return nil, fmt.Errorf("opening wallet database at %s: %w", dbPath, err)
	}
	return &LevelDB{db: db}, nil
}

// Close closes the database.
func (s *LevelDB) Close() error {
	return s.db.Close()
}

// PutSession stores one session record keyed by topic.
func (s *LevelDB) PutSession(record SessionRecord) error {
	if record.Topic == "" {
		return fmt.Errorf("session record has no topic")
	}
	return s.put(sessionKeyPrefix+record.Topic, record)
}

// GetSession loads one session record.
func (s *LevelDB) GetSession(topic string) (SessionRecord, error) {
	var record SessionRecord
	err := s.get(sessionKeyPrefix+topic, &record)
	return record, err
}

// DeleteSession removes one session record. Deleting a missing topic is a
// no-op.
func (s *LevelDB) DeleteSession(topic string) error {
	if err := s.db.Delete([]byte(sessionKeyPrefix+topic), nil); err != nil {
		return fmt.Errorf("deleting session %s: %w", topic, err)
	}
	return nil
}

// ListSessions returns every stored session.
func (s *LevelDB) ListSessions() ([]SessionRecord, error) {
	records := make([]SessionRecord, 0)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(sessionKeyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var record SessionRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return nil, fmt.Errorf("unmarshaling session %s: %w", iter.Key(), err)
		}
		records = append(records, record)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return records, nil
}

// PutCredential stores one credential record keyed by id.
func (s *LevelDB) PutCredential(record CredentialRecord) error {
	if record.ID == "" {
		return fmt.Errorf("credential record has no id")
	}
	return s.put(credentialKeyPrefix+record.ID, record)
}

// GetCredential loads one credential record.
func (s *LevelDB) GetCredential(id string) (CredentialRecord, error) {
	var record CredentialRecord
	err := s.get(credentialKeyPrefix+id, &record)
	return record, err
}

// ListCredentials returns every registered credential.
func (s *LevelDB) ListCredentials() ([]CredentialRecord, error) {
	records := make([]CredentialRecord, 0)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(credentialKeyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var record CredentialRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return nil, fmt.Errorf("unmarshaling credential %s: %w", iter.Key(), err)
		}
		records = append(records, record)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return records, nil
}

func (s *LevelDB) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), data, nil); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (s *LevelDB) get(key string, dst any) error {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return nil
}
