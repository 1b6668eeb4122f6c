// Command seed loads a directory of groups and users from a YAML file into
// the database. Intended for initial provisioning and local development.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gopkg.in/yaml.v3"

	"github.com/jtekt/approval-flow/internal/app/domain/user"
	"github.com/jtekt/approval-flow/internal/app/storage/postgres"
)

type directory struct {
	Groups []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	} `yaml:"groups"`
	Users []struct {
		ID       string   `yaml:"id"`
		Name     string   `yaml:"name"`
		Email    string   `yaml:"email"`
		GroupIDs []string `yaml:"group_ids"`
	} `yaml:"users"`
}

func main() {
	var (
		file    = flag.String("file", "./directory.yml", "Path to the directory YAML file")
		envFile = flag.String("env", "", "Optional .env file providing DATABASE_URL")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env (%s): %v", *envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read directory file: %v", err)
	}
	var dir directory
	if err := yaml.Unmarshal(raw, &dir); err != nil {
		log.Fatalf("parse directory file: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	store := postgres.New(db)

	for _, g := range dir.Groups {
		if _, err := store.UpsertGroup(ctx, user.Group{ID: g.ID, Name: g.Name, Type: g.Type}); err != nil {
			log.Fatalf("upsert group %s: %v", g.ID, err)
		}
	}
	for _, u := range dir.Users {
		if _, err := store.UpsertUser(ctx, user.User{ID: u.ID, Name: u.Name, Email: u.Email, GroupIDs: u.GroupIDs}); err != nil {
			log.Fatalf("upsert user %s: %v", u.ID, err)
		}
	}

	log.Printf("seeded %d groups and %d users", len(dir.Groups), len(dir.Users))
}
