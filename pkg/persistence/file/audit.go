package file

import (
	"context"
	"sort"

	"github.com/construkt/approvalflow/pkg/models"
	"github.com/construkt/approvalflow/pkg/persistence"
)

const kindAudit = "audit"

// AuditRepository stores audit entries as JSON documents, one per entry.
// Entries are append-only; there is no update or delete path.
type AuditRepository struct {
	store *Persistence
}

func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	return r.store.write(kindAudit, entry.ID, entry)
}

func (r *AuditRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.AuditEntry, error) {
	ids, err := r.store.ids(kindAudit)
	if err != nil {
		return nil, err
	}

	entries := make([]*models.AuditEntry, 0)

	for _, id := range ids {
		var entry models.AuditEntry

		if err := r.store.read(kindAudit, id, &entry); err != nil {
			return nil, persistence.NewRepositoryError("ListByInstance", "audit", id, err)
		}

		if entry.InstanceID == instanceID {
			entries = append(entries, &entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}
