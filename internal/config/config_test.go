package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

func TestRoleMapEnv_ParsesPairsAndSkipsMalformed(t *testing.T) {
	t.Setenv("ROLE_MAP_BOOTSTRAP", "exec@firm.com:executive,admin@firm.com:admin,badentry,:missing-email")

	got := roleMapEnv("ROLE_MAP_BOOTSTRAP")
	assert.Equal(t, map[string]store.Role{
		"exec@firm.com":  store.RoleExecutive,
		"admin@firm.com": store.RoleAdmin,
	}, got)
}

func TestRoleMapEnv_EmptyReturnsNil(t *testing.T) {
	t.Setenv("ROLE_MAP_BOOTSTRAP", "")
	assert.Nil(t, roleMapEnv("ROLE_MAP_BOOTSTRAP"))
}
