package db

import "database/sql"

//execer is satisfied by both *sql.DB and *sql.Tx, letting every query
//function below run either standalone or as part of a caller-scoped
//transaction via Store.WithTx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

//Store is a typed wrapper over the SQLite connection. It exposes no
//business rules of its own (those live in the relay package); it only
//knows how to read and write rows.
type Store struct {
	conn *sql.DB
}

//NewStore wraps an already-open database handle.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

//DB returns the underlying connection, usable directly as an execer for
//reads or single-statement writes.
func (s *Store) DB() *sql.DB {
	return s.conn
}

//WithTx runs fn inside a single transaction, committing if fn returns nil
//and rolling back otherwise. Every multi-step mutation in the relay
//package (claim, release, open, close, prune) goes through this so it is
//atomic and visible to readers only once committed.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
