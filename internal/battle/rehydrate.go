package battle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tcgarena/battle-server/internal/catalog"
)

// Issue is one inconsistency found between a state and its context.
type Issue struct {
	InstanceID string `json:"instanceId"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail"`
}

const (
	IssueMissingInstance     = "missing_instance"
	IssueHPMismatch          = "hp_mismatch"
	IssueEnergyCountMismatch = "energy_count_mismatch"
	IssueEnergyTypeMismatch  = "energy_type_mismatch"
)

// Rehydrator rebuilds the runtime card-instance cache from a persisted
// state, for the stateless PvE path where nothing survives between
// requests.
type Rehydrator struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewRehydrator creates a Rehydrator backed by the given catalog.
func NewRehydrator(cat *catalog.Catalog, logger *zap.Logger) *Rehydrator {
	return &Rehydrator{catalog: cat, logger: logger}
}

// Rehydrate walks every zone on both sides of state and builds a live
// CardInstance for each reachable ref. HP and attached energy come from
// the state's instance maps, falling back to full HP and no energy for
// an instance the maps have never seen. A ref whose catalog definition
// cannot be resolved is skipped; Validate reports it afterwards.
func (r *Rehydrator) Rehydrate(ctx context.Context, state *State) (*Context, error) {
	refs := state.AllRefs()

	seen := make(map[string]struct{})
	var catalogIDs []string
	for _, ref := range refs {
		if _, ok := seen[ref.CatalogID]; ok {
			continue
		}
		seen[ref.CatalogID] = struct{}{}
		catalogIDs = append(catalogIDs, ref.CatalogID)
	}

	defs, err := r.catalog.GetMany(ctx, catalogIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load card definitions: %w", err)
	}

	bctx := NewContext()
	for _, def := range defs {
		bctx.Defs[def.ID] = def
	}
	if len(defs) < len(catalogIDs) {
		r.logger.Warn("catalog is missing definitions for persisted battle",
			zap.String("battle_id", state.ID),
			zap.Int("requested", len(catalogIDs)),
			zap.Int("resolved", len(defs)))
	}

	for _, ref := range refs {
		def, ok := bctx.Defs[ref.CatalogID]
		if !ok {
			continue
		}
		inst := NewInstance(ref.InstanceID, def)
		if hp, ok := state.HPByInstance[ref.InstanceID]; ok {
			inst.HP = clampHP(hp, inst.MaxHP)
		}
		if types, ok := state.EnergyTypesByInstance[ref.InstanceID]; ok {
			inst.Energy = append([]catalog.Element(nil), types...)
		}
		bctx.Add(inst)
	}
	return bctx, nil
}

// Validate compares a context against a state and reports every
// divergence. A clean pair yields an empty slice.
func (r *Rehydrator) Validate(state *State, bctx *Context) []Issue {
	var issues []Issue
	for _, ref := range state.AllRefs() {
		inst := bctx.Instance(ref.InstanceID)
		if inst == nil {
			issues = append(issues, Issue{
				InstanceID: ref.InstanceID,
				Kind:       IssueMissingInstance,
				Detail:     fmt.Sprintf("no live instance for catalog id %s", ref.CatalogID),
			})
			continue
		}
		if hp, ok := state.HPByInstance[ref.InstanceID]; ok && hp != inst.HP {
			issues = append(issues, Issue{
				InstanceID: ref.InstanceID,
				Kind:       IssueHPMismatch,
				Detail:     fmt.Sprintf("state hp %d, instance hp %d", hp, inst.HP),
			})
		}
		if count, ok := state.EnergyByInstance[ref.InstanceID]; ok && count != len(inst.Energy) {
			issues = append(issues, Issue{
				InstanceID: ref.InstanceID,
				Kind:       IssueEnergyCountMismatch,
				Detail:     fmt.Sprintf("state count %d, instance count %d", count, len(inst.Energy)),
			})
		}
		if types, ok := state.EnergyTypesByInstance[ref.InstanceID]; ok && !sameElements(types, inst.Energy) {
			issues = append(issues, Issue{
				InstanceID: ref.InstanceID,
				Kind:       IssueEnergyTypeMismatch,
				Detail:     "state energy types diverge from instance",
			})
		}
	}
	return issues
}

// Sync pushes the state's persisted numbers onto the live instances.
// One-directional: the state is authoritative, the context is corrected.
func (r *Rehydrator) Sync(state *State, bctx *Context) {
	for _, ref := range state.AllRefs() {
		inst := bctx.Instance(ref.InstanceID)
		if inst == nil {
			continue
		}
		if hp, ok := state.HPByInstance[ref.InstanceID]; ok {
			inst.HP = clampHP(hp, inst.MaxHP)
		}
		if types, ok := state.EnergyTypesByInstance[ref.InstanceID]; ok {
			inst.Energy = append([]catalog.Element(nil), types...)
		}
	}
}

func clampHP(hp, maxHP int) int {
	if hp < 0 {
		return 0
	}
	if hp > maxHP {
		return maxHP
	}
	return hp
}

// sameElements compares two energy multisets ignoring order.
func sameElements(a, b []catalog.Element) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[catalog.Element]int, len(a))
	for _, el := range a {
		counts[el]++
	}
	for _, el := range b {
		counts[el]--
		if counts[el] < 0 {
			return false
		}
	}
	return true
}
