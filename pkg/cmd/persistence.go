// Package cmd provides shared construction helpers for the binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/construkt/approvalflow/pkg/persistence"
	"github.com/construkt/approvalflow/pkg/persistence/file"
	"github.com/construkt/approvalflow/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL scheme.
// Postgres URLs get the real store; anything else is treated as a directory
// path for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseScheme(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return ""
	}

	return parts[0]
}
