package snapshot

import (
	"database/sql"
	"fmt"

	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/message"
	_ "github.com/mattn/go-sqlite3" // driver registration only.
	"github.com/pkg/errors"
)

// SQLiteSnapshotter persists store records to a single SQLite file,
// one table covering every store name, keyed by (store, key, ballot).
type SQLiteSnapshotter struct {
	db *sql.DB
}

// NewSQLiteSnapshotter opens (creating if absent) the database file at
// path and ensures its schema exists.
func NewSQLiteSnapshotter(path string) (*SQLiteSnapshotter, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite snapshot db %s", path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS promises (
		store TEXT NOT NULL,
		key TEXT NOT NULL,
		ballot_counter INTEGER NOT NULL,
		ballot_agent TEXT NOT NULL,
		predicate TEXT,
		argument TEXT,
		PRIMARY KEY (store, key, ballot_counter, ballot_agent)
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create promises table")
	}

	return &SQLiteSnapshotter{db: db}, nil
}

// Save implements Snapshotter.
func (s *SQLiteSnapshotter) Save(storeName string, records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if _, err := tx.Exec(`DELETE FROM promises WHERE store = ?`, storeName); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "clear prior snapshot")
	}
	for _, rec := range records {
		for id, promise := range rec.Promises {
			if promise.Prepare == nil {
				continue
			}
			if _, err := tx.Exec(
				`INSERT INTO promises (store, key, ballot_counter, ballot_agent, predicate, argument)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT (store, key, ballot_counter, ballot_agent)
				 DO UPDATE SET predicate = excluded.predicate, argument = excluded.argument`,
				storeName, rec.Key, id.Counter, id.AgentID, promise.Prepare.Predicate, promise.Prepare.Argument,
			); err != nil {
				tx.Rollback()
				return errors.Wrapf(err, "save key %s ballot %s", rec.Key, id.String())
			}
		}
	}
	return tx.Commit()
}

// Load implements Snapshotter.
func (s *SQLiteSnapshotter) Load(storeName string) ([]Record, error) {
	rows, err := s.db.Query(`SELECT key, ballot_counter, ballot_agent, predicate, argument FROM promises WHERE store = ?`, storeName)
	if err != nil {
		return nil, errors.Wrap(err, "query promises")
	}
	defer rows.Close()

	byKey := make(map[string]map[ballot.Ballot]message.Promise)
	for rows.Next() {
		var key, agentID, predicate, argument string
		var counter int64
		if err := rows.Scan(&key, &counter, &agentID, &predicate, &argument); err != nil {
			return nil, errors.Wrap(err, "scan promise row")
		}
		id := ballot.Ballot{Counter: counter, AgentID: agentID}
		prepare := message.Prepare{ID: id, Key: key, Predicate: predicate, Argument: argument}
		if byKey[key] == nil {
			byKey[key] = make(map[ballot.Ballot]message.Promise)
		}
		byKey[key][id] = message.Promise{Prepare: &prepare}
	}

	records := make([]Record, 0, len(byKey))
	for key, promises := range byKey {
		records = append(records, Record{Store: storeName, Key: key, Promises: promises})
	}
	return records, nil
}

// Close implements Snapshotter.
func (s *SQLiteSnapshotter) Close() error {
	return s.db.Close()
}
