package database

import (
	"database/sql"
)

type PgDuetRepository struct {
	conn *sql.DB
}

func NewPgDuetRepository(dsn string) (*PgDuetRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgDuetRepository{conn: db}, nil
}

func (db *PgDuetRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgDuetRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
