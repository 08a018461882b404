// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose_test

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	. "gopkg.in/check.v1"

	sc "github.com/canonical/sqlcompose"
	"github.com/canonical/sqlcompose/dialect"
)

type TXSuite struct {
	db   *sql.DB
	mock sqlmock.Sqlmock
}

var _ = Suite(&TXSuite{})

func (s *TXSuite) SetUpTest(c *C) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	c.Assert(err, IsNil)
	s.db, s.mock = db, mock
}

func (s *TXSuite) TearDownTest(c *C) {
	c.Check(s.mock.ExpectationsWereMet(), IsNil)
	s.db.Close()
}

func (s *TXSuite) conn(c *C, d dialect.Dialect, opts *sc.ConnOptions) *sc.Conn {
	conn, err := s.db.Conn(context.Background())
	c.Assert(err, IsNil)
	return sc.NewConn(conn, d, opts)
}

func (s *TXSuite) TestCommit(c *C) {
	conn := s.conn(c, dialect.Postgres, nil)

	s.mock.ExpectBegin()
	s.mock.ExpectExec(`UPDATE "person" SET "name" = $1 WHERE "id" = $2`).
		WithArgs("Bob", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	ctx := context.Background()
	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Check(tx.State(), Equals, sc.Started)
	c.Check(conn.HasPending(), Equals, true)

	res, err := tx.Exec(ctx, sc.NewUpdate("person").Set("name", "Bob").Where("id", "=", 1))
	c.Assert(err, IsNil)
	n, err := res.RowsAffected()
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(1))

	c.Assert(tx.Commit(ctx), IsNil)
	c.Check(tx.State(), Equals, sc.Committed)
	c.Check(conn.HasPending(), Equals, false)

	c.Check(tx.Commit(ctx), Equals, sc.ErrTXDone)
	c.Check(tx.Rollback(ctx), Equals, sc.ErrTXDone)
	_, err = tx.Exec(ctx, sc.RawSQL("SELECT 1"))
	c.Check(err, Equals, sc.ErrTXDone)
	c.Check(tx.Close(), IsNil)
}

func (s *TXSuite) TestRollback(c *C) {
	conn := s.conn(c, dialect.Generic, nil)

	s.mock.ExpectBegin()
	s.mock.ExpectQuery(`SELECT "id" FROM "person" WHERE "name" = ?`).
		WithArgs("Fred").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(30))
	s.mock.ExpectRollback()

	ctx := context.Background()
	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)

	row, err := tx.QueryRow(ctx, sc.NewSelect("id").From("person").Where("name", "=", "Fred"))
	c.Assert(err, IsNil)
	var id int
	c.Assert(row.Scan(&id), IsNil)
	c.Check(id, Equals, 30)

	c.Assert(tx.Rollback(ctx), IsNil)
	c.Check(tx.State(), Equals, sc.RolledBack)
	c.Check(conn.HasPending(), Equals, false)
}

func (s *TXSuite) TestNotStarted(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	tx := conn.Transaction(nil)
	c.Check(tx.State(), Equals, sc.NotStarted)
	c.Check(tx.Commit(ctx), Equals, sc.ErrTXNotStarted)
	c.Check(tx.Rollback(ctx), Equals, sc.ErrTXNotStarted)
	_, err := tx.Query(ctx, sc.RawSQL("SELECT 1"))
	c.Check(err, Equals, sc.ErrTXNotStarted)
	_, err = tx.Savepoint(ctx)
	c.Check(err, Equals, sc.ErrTXNotStarted)
	c.Check(tx.Close(), IsNil)
}

func (s *TXSuite) TestBeginTwice(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectCommit()

	tx := conn.Transaction(nil)
	c.Assert(tx.Begin(ctx), IsNil)
	c.Check(tx.Begin(ctx), Equals, sc.ErrTXStarted)
	c.Assert(tx.Commit(ctx), IsNil)
	c.Check(tx.Begin(ctx), Equals, sc.ErrTXDone)
}

func (s *TXSuite) TestPending(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectRollback()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)

	_, err = conn.Begin(ctx, nil)
	c.Check(err, Equals, sc.ErrTXPending)
	_, err = conn.Exec(ctx, sc.RawSQL("DELETE FROM person"))
	c.Check(err, Equals, sc.ErrTXPending)
	_, err = conn.Query(ctx, sc.RawSQL("SELECT 1"))
	c.Check(err, Equals, sc.ErrTXPending)

	c.Assert(tx.Rollback(ctx), IsNil)
}

func (s *TXSuite) TestBeginError(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	s.mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	_, err := conn.Begin(ctx, nil)
	c.Check(err, ErrorMatches, "database is locked")
	c.Check(conn.HasPending(), Equals, false)
}

func (s *TXSuite) TestSavepoints(c *C) {
	conn := s.conn(c, dialect.Postgres, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec(`INSERT INTO "person" ("id") VALUES ($1)`).WithArgs(7).WillReturnResult(sqlmock.NewResult(7, 1))
	s.mock.ExpectExec("SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectCommit()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Check(tx.IsSavepoint(), Equals, false)

	sp1, err := tx.Savepoint(ctx)
	c.Assert(err, IsNil)
	c.Check(sp1.IsSavepoint(), Equals, true)
	c.Check(sp1.SavepointName(), Equals, "sp_1")

	_, err = sp1.Exec(ctx, sc.NewInsert("person").Columns("id").Values(7))
	c.Assert(err, IsNil)

	sp2, err := sp1.Savepoint(ctx)
	c.Assert(err, IsNil)
	c.Check(sp2.SavepointName(), Equals, "sp_2")

	// Savepoints end innermost first.
	err = sp1.Commit(ctx)
	c.Check(errors.Is(err, sc.ErrSavepointOpen), Equals, true)
	c.Check(err, ErrorMatches, `.*cannot end sp_1 before sp_2`)
	c.Check(sp1.State(), Equals, sc.Started)

	c.Assert(sp2.Rollback(ctx), IsNil)
	c.Check(sp2.State(), Equals, sc.RolledBack)
	c.Check(sp2.Commit(ctx), Equals, sc.ErrTXDone)
	_, err = sp2.Exec(ctx, sc.RawSQL("SELECT 1"))
	c.Check(err, Equals, sc.ErrTXDone)

	c.Assert(sp1.Commit(ctx), IsNil)
	c.Check(sp1.State(), Equals, sc.Committed)
	c.Check(tx.State(), Equals, sc.Started)

	c.Check(sp1.SetIsolation(ctx, sql.LevelSerializable), Equals, sc.ErrSavepointIsolation)
	c.Check(sp1.Close(), IsNil)

	c.Assert(tx.Commit(ctx), IsNil)
}

func (s *TXSuite) TestRootEndsOpenSavepoints(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectRollback()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	sp, err := tx.Savepoint(ctx)
	c.Assert(err, IsNil)

	c.Assert(tx.Rollback(ctx), IsNil)
	c.Check(sp.State(), Equals, sc.RolledBack)
	c.Check(sp.Rollback(ctx), Equals, sc.ErrTXDone)
}

func (s *TXSuite) TestNestedBegin(c *C) {
	conn := s.conn(c, dialect.Generic, &sc.ConnOptions{NestedTransactions: true})
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectCommit()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	inner, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Check(inner.IsSavepoint(), Equals, true)
	c.Check(inner.Begin(ctx), Equals, sc.ErrTXStarted)

	c.Assert(inner.Commit(ctx), IsNil)
	c.Assert(tx.Commit(ctx), IsNil)
}

func (s *TXSuite) TestNestedBeginOption(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectRollback()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	inner, err := conn.Begin(ctx, &sc.TXOptions{Nested: true})
	c.Assert(err, IsNil)
	c.Assert(inner.Rollback(ctx), IsNil)
	c.Assert(tx.Rollback(ctx), IsNil)
}

func (s *TXSuite) TestSetIsolation(c *C) {
	conn := s.conn(c, dialect.MySQL, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectExec("SET TRANSACTION ISOLATION LEVEL SERIALIZABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectCommit()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Assert(tx.SetIsolation(ctx, sql.LevelSerializable), IsNil)
	c.Check(tx.SetIsolation(ctx, sql.LevelLinearizable), ErrorMatches, `isolation level "Linearizable" not supported`)
	c.Assert(tx.Commit(ctx), IsNil)
}

func (s *TXSuite) TestCloseLeaked(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectRollback()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Check(tx.Close(), Equals, sc.ErrTXLeaked)
	c.Check(tx.State(), Equals, sc.RolledBack)
	c.Check(conn.HasPending(), Equals, false)
	c.Check(tx.Close(), IsNil)
}

func (s *TXSuite) TestConnCloseRollsBack(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectRollback()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Check(conn.Close(), Equals, sc.ErrTXLeaked)
	c.Check(tx.State(), Equals, sc.RolledBack)
	c.Check(tx.Rollback(ctx), Equals, sc.ErrTXDone)
}

func (s *TXSuite) TestCommitError(c *C) {
	conn := s.conn(c, dialect.Generic, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Check(tx.Commit(ctx), ErrorMatches, "disk I/O error")
	c.Check(tx.State(), Equals, sc.RolledBack)
	c.Check(conn.HasPending(), Equals, false)
}

func (s *TXSuite) TestCompileErrorInTransaction(c *C) {
	conn := s.conn(c, dialect.MySQL, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectRollback()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	_, err = tx.Exec(ctx, sc.NewDelete("person").Returning("id"))
	c.Check(errors.Is(err, sc.ErrCompile), Equals, true)
	c.Check(tx.State(), Equals, sc.Started)
	c.Assert(tx.Rollback(ctx), IsNil)
}

func (s *TXSuite) TestPostgresErrorPassThrough(c *C) {
	conn := s.conn(c, dialect.Postgres, nil)
	ctx := context.Background()

	s.mock.ExpectBegin()
	s.mock.ExpectExec(`INSERT INTO "person" ("id", "name") VALUES ($1, $2)`).
		WithArgs(1, "Fred").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	s.mock.ExpectRollback()

	tx, err := conn.Begin(ctx, nil)
	c.Assert(err, IsNil)
	_, err = tx.Exec(ctx, sc.NewInsert("person").Columns("id", "name").Values(1, "Fred"))
	var pqErr *pq.Error
	c.Assert(errors.As(err, &pqErr), Equals, true)
	c.Check(pqErr.Code.Name(), Equals, "unique_violation")
	c.Assert(tx.Rollback(ctx), IsNil)
}

func (s *TXSuite) TestMySQLErrorPassThrough(c *C) {
	conn := s.conn(c, dialect.MySQL, nil)
	ctx := context.Background()

	query := "INSERT INTO `person` (`id`, `name`) VALUES (?, ?)"
	s.mock.ExpectPrepare(query).
		ExpectExec().
		WithArgs(1, "Fred").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"})

	_, err := conn.Exec(ctx, sc.NewInsert("person").Columns("id", "name").Values(1, "Fred"))
	var myErr *mysql.MySQLError
	c.Assert(errors.As(err, &myErr), Equals, true)
	c.Check(myErr.Number, Equals, uint16(1062))
}

func (s *TXSuite) TestPrepareErrorPassThrough(c *C) {
	conn := s.conn(c, dialect.Postgres, nil)
	ctx := context.Background()

	s.mock.ExpectPrepare(`SELECT * FROM "missing"`).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "missing" does not exist`})

	_, err := conn.Query(ctx, sc.NewSelect().From("missing"))
	var pqErr *pq.Error
	c.Assert(errors.As(err, &pqErr), Equals, true)
	c.Check(pqErr.Code.Name(), Equals, "undefined_table")
	c.Check(conn.CacheLen(), Equals, 0)
}
