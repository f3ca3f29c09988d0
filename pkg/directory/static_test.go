package directory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construkt/approvalflow/pkg/models"
)

func testConfig() Config {
	return Config{Users: []User{
		{ID: "u-1", Name: "Sam", Active: true, RoleIDs: []string{"supervisor"}, ManagerID: "u-3"},
		{ID: "u-2", Name: "Alex", Active: true, TeamIDs: []string{"finance"}},
		{ID: "u-3", Name: "Dana", Active: true, HeadOfDepts: []string{"dep-7"}},
		{ID: "u-4", Name: "Gone", Active: false, RoleIDs: []string{"supervisor"}},
	}}
}

func TestStaticResolution(t *testing.T) {
	ctx := context.Background()
	dir := NewStatic(testConfig())

	byRole, err := dir.ActorsByRole(ctx, "supervisor")
	require.NoError(t, err)
	assert.True(t, byRole.Contains("u-1"))
	assert.False(t, byRole.Contains("u-4"), "inactive users never resolve")

	byTeam, err := dir.ActorsByTeam(ctx, "finance")
	require.NoError(t, err)
	assert.True(t, byTeam.Contains("u-2"))

	byID, err := dir.ActorByID(ctx, "u-4")
	require.NoError(t, err)
	assert.True(t, byID.Empty())

	manager, err := dir.ManagerOf(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, manager.Contains("u-3"))
}

func TestStaticRelations(t *testing.T) {
	ctx := context.Background()
	dir := NewStatic(testConfig())

	snapshot := models.EntitySnapshot{
		"created_by":    "u-1",
		"department_id": "dep-7",
	}

	creator, err := dir.ResolveRelation(ctx, models.RelationCreator, snapshot)
	require.NoError(t, err)
	assert.True(t, creator.Contains("u-1"))

	directManager, err := dir.ResolveRelation(ctx, models.RelationDirectManager, snapshot)
	require.NoError(t, err)
	assert.True(t, directManager.Contains("u-3"))

	head, err := dir.ResolveRelation(ctx, models.RelationDepartmentHead, snapshot)
	require.NoError(t, err)
	assert.True(t, head.Contains("u-3"))

	branch, err := dir.ResolveRelation(ctx, models.RelationBranchManager, snapshot)
	require.NoError(t, err)
	assert.True(t, branch.Empty())
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")

	data, err := json.Marshal(testConfig())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	dir, err := LoadStatic(path)
	require.NoError(t, err)

	byRole, err := dir.ActorsByRole(context.Background(), "supervisor")
	require.NoError(t, err)
	assert.True(t, byRole.Contains("u-1"))

	_, err = LoadStatic(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
