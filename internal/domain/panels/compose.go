package panels

// MergeEntities returns the effective entity set of a super-panel built
// from the given children, in child order. Entities sharing a type and
// name collapse into the first occurrence and their evaluation lists are
// concatenated in child order.
func MergeEntities(children []*PanelSnapshot) []*Entity {
	type key struct {
		t    EntityType
		name string
	}
	var out []*Entity
	index := map[key]*Entity{}
	for _, child := range children {
		if child == nil {
			continue
		}
		for _, e := range child.Entities {
			if e == nil {
				continue
			}
			k := key{t: e.EntityType, name: e.EntityName}
			if merged, ok := index[k]; ok {
				for _, ev := range e.Evaluations {
					merged.Evaluations = append(merged.Evaluations, ev.Clone())
				}
				continue
			}
			merged := e.Clone(e.PanelSnapshotID)
			merged.ID = e.ID
			index[k] = merged
			out = append(out, merged)
		}
	}
	return out
}
