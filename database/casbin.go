package database

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"

	"dm-service/config"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// DefaultPolicies are seeded on every start; AddPolicy is a no-op for rows
// that already exist.
var DefaultPolicies = [][]string{
	{RoleMember, "/v1/conversations*", "(GET)|(POST)"},
	{RoleAdmin, "/v1/*", "(GET)|(POST)|(PUT)|(DELETE)"},
}

func Casbin(db *gorm.DB) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("initialize casbin adapter: %w", err)
	}

	e, err := casbin.NewEnforcer(config.Config("CASBIN_MODEL"), adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policy: %w", err)
	}
	if err := SeedPolicies(e); err != nil {
		return nil, err
	}
	return e, nil
}

func SeedPolicies(e *casbin.Enforcer) error {
	for _, p := range DefaultPolicies {
		if ok, _ := e.HasPolicy(p[0], p[1], p[2]); ok {
			continue
		}
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return fmt.Errorf("seed casbin policy %v: %w", p, err)
		}
	}
	return nil
}
