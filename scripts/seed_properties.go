package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"loft/internal/database"
	"loft/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type PropertiesFile struct {
	Properties []*models.Property `yaml:"properties"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		propertiesPath = flag.String("properties", "configs/properties.yaml", "path to properties.yaml")
		dbPath         = flag.String("db", "./data/loft.db", "path to sqlite db")
		dryRun         = flag.Bool("dry-run", false, "validate the file without writing")
	)
	flag.Parse()

	data, err := os.ReadFile(*propertiesPath)
	if err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	var file PropertiesFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse properties: %w", err)
	}
	if len(file.Properties) == 0 {
		return fmt.Errorf("no properties in yaml")
	}

	seen := make(map[int64]bool, len(file.Properties))
	for _, p := range file.Properties {
		if p.ID <= 0 || p.Name == "" {
			return fmt.Errorf("property %q: id and name are required", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate property id %d", p.ID)
		}
		seen[p.ID] = true
		if p.NightlyPrice < 0 || p.CleaningFee < 0 || p.TaxRateBP < 0 {
			return fmt.Errorf("property %d: prices must not be negative", p.ID)
		}
	}
	if *dryRun {
		fmt.Printf("ok: %d properties\n", len(file.Properties))
		return nil
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, updated := 0, 0
	for _, p := range file.Properties {
		_, err = db.GetProperty(ctx, p.ID)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, database.ErrNotFound):
			created++
		default:
			return fmt.Errorf("get %d: %w", p.ID, err)
		}
	}

	if err = db.SyncProperties(ctx, file.Properties); err != nil {
		return err
	}

	fmt.Printf("done: created=%d updated=%d\n", created, updated)
	return nil
}
