// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Command demo builds a few statements, runs them on an in-memory SQLite
// database and prints what they return. A YAML file given with -config sets
// the connection options.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	_ "github.com/mattn/go-sqlite3"

	sc "github.com/canonical/sqlcompose"
	"github.com/canonical/sqlcompose/dialect"
)

type Person struct {
	Name     string `db:"name"`
	Height   int    `db:"height_cm"`
	HomeTown string `db:"home_town"`
}

type Place struct {
	Name       string `db:"town_name"`
	Population int    `db:"population"`
}

var people = []Person{{"Jim", 150, "Kabul"}, {"Saba", 162, "Berlin"}, {"Dave", 169, "Brasília"}, {"Sophie", 174, "Berlin"}, {"Kiri", 168, "Cape Town"}}
var places = []Place{{"Kabul", 13000000}, {"Berlin", 3677472}, {"Brasília", 3039444}, {"Cape Town", 4710000}}

func run(ctx context.Context, cfg *sc.Config, out io.Writer, logOut io.Writer) error {
	sqldb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	defer sqldb.Close()
	sqldb.SetMaxOpenConns(1)
	plain, err := sqldb.Conn(ctx)
	if err != nil {
		return err
	}
	conn := sc.NewConn(plain, dialect.SQLite, cfg.ConnOptions(logOut))
	defer conn.Close()

	// Create the tables.
	_, err = plain.ExecContext(ctx, `
		CREATE TABLE people (
			name text PRIMARY KEY,
			height_cm integer,
			home_town text
		);
		CREATE TABLE location (
			town_name text PRIMARY KEY,
			population integer
		);`)
	if err != nil {
		return err
	}

	// Insert the people and places in one transaction.
	tx, err := conn.Begin(ctx, nil)
	if err != nil {
		return err
	}
	insertPeople := sc.NewInsert("people")
	for _, p := range people {
		insertPeople.Record(p)
	}
	insertPlaces := sc.NewInsert("location")
	for _, p := range places {
		insertPlaces.Record(p)
	}
	for _, stmt := range []sc.Statement{insertPeople, insertPlaces} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			tx.Rollback(ctx)
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// Find people taller than Jim.
	jim := people[0]
	tallerThan := sc.NewSelect("name", "height_cm", "home_town").
		From("people").
		Where("height_cm", ">", jim.Height).
		OrderBy("height_cm", sc.Asc)
	rows, err := conn.Query(ctx, tallerThan)
	if err != nil {
		return err
	}
	var tallPeople []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.Name, &p.Height, &p.HomeTown); err != nil {
			rows.Close()
			return err
		}
		fmt.Fprintf(out, "%s is taller than %s.\n", p.Name, jim.Name)
		tallPeople = append(tallPeople, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	// Find cities with people taller than Jim.
	tallerCity := sc.NewSelect("l.town_name", "l.population").
		Distinct().
		From("location l").
		WhereExists(sc.NewSelect(sc.RawSQL("1")).
			From("people p").
			WhereRaw(`p.home_town = l.town_name`).
			Where("p.height_cm", ">", jim.Height)).
		OrderBy("l.town_name", sc.Asc)
	rows, err = conn.Query(ctx, tallerCity)
	if err != nil {
		return err
	}
	defer rows.Close()
	var tallCities []Place
	for rows.Next() {
		var p Place
		if err := rows.Scan(&p.Name, &p.Population); err != nil {
			return err
		}
		tallCities = append(tallCities, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	fmt.Fprintf(out, "This is a list of cities with people taller than Jim: %v\n", tallCities)
	fmt.Fprintf(out, "This is a list of people taller than Jim: %v\n", tallPeople)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML connection config")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "demo", Output: os.Stderr})
	cfg := &sc.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = sc.ReadConfig(*configPath); err != nil {
			logger.Error("cannot load config", "path", *configPath, "err", err)
			os.Exit(1)
		}
	}
	if err := run(context.Background(), cfg, os.Stdout, os.Stderr); err != nil {
		logger.Error("demo failed", "err", err)
		os.Exit(1)
	}
}
