// Package file provides file-based persistence for tests and local
// development. Each row is stored as one JSON document; a store-wide mutex
// provides the atomicity the execution state machine needs.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/construkt/approvalflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the
// file system.
type Persistence struct {
	root string
	mu   sync.Mutex

	definitions *DefinitionRepository
	instances   *InstanceRepository
	executions  *ExecutionRepository
	audit       *AuditRepository
}

// NewPersistence creates a file-backed store rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.definitions = &DefinitionRepository{store: p}
	p.instances = &InstanceRepository{store: p}
	p.executions = &ExecutionRepository{store: p}
	p.audit = &AuditRepository{store: p}

	return p
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitions
}

func (p *Persistence) Instances() persistence.InstanceRepository {
	return p.instances
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) Audit() persistence.AuditRepository {
	return p.audit
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) dir(kind string) string {
	return filepath.Join(p.root, kind)
}

func (p *Persistence) write(kind, id string, value any) error {
	dir := p.dir(kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

// read loads one document into out. It returns os.ErrNotExist when the
// document is absent.
func (p *Persistence) read(kind, id string, out any) error {
	data, err := os.ReadFile(filepath.Join(p.dir(kind), id+".json"))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}

func (p *Persistence) ids(kind string) ([]string, error) {
	root := os.DirFS(p.dir(kind))

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}
