package rbac

import (
	"fmt"
	"log"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/ethereum/go-ethereum/common"
)

// Actions guarded by ownership.
const (
	ActDeactivate = "game.deactivate"
	ActReactivate = "game.reactivate"
)

// ownerModel grants an action only when the caller is the resource owner.
const ownerModel = `
[request_definition]
r = sub, owner, act

[policy_definition]
p = act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == r.owner && r.act == p.act
`

// OwnerPolicy wraps a Casbin enforcer that checks owner-scoped actions.
type OwnerPolicy struct {
	enforcer *casbin.Enforcer
}

// NewOwnerPolicy builds the enforcer from the embedded model and grants the given
// actions to owners. With no actions, the game lifecycle actions are granted.
func NewOwnerPolicy(actions ...string) (*OwnerPolicy, error) {
	m, err := model.NewModelFromString(ownerModel)
	if err != nil {
		return nil, fmt.Errorf("casbin model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("casbin enforcer: %w", err)
	}
	if len(actions) == 0 {
		actions = []string{ActDeactivate, ActReactivate}
	}
	for _, act := range actions {
		if _, err := enforcer.AddPolicy(act); err != nil {
			return nil, fmt.Errorf("casbin policy %s: %w", act, err)
		}
	}
	return &OwnerPolicy{enforcer: enforcer}, nil
}

// CanManage reports whether caller may perform act on a resource owned by owner.
func (p *OwnerPolicy) CanManage(caller, owner common.Address, act string) bool {
	allowed, err := p.enforcer.Enforce(caller.Hex(), owner.Hex(), act)
	if err != nil {
		log.Printf("[RBAC] enforce %s for %s: %v", act, caller.Hex(), err)
		return false
	}
	if !allowed {
		log.Printf("[RBAC] DENIED: %s -> %s (owner %s)", caller.Hex(), act, owner.Hex())
	}
	return allowed
}
