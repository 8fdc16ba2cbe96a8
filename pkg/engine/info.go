package engine

import (
	"context"
	"time"
)

// Info describes an open index.
type Info struct {
	Name        string   `json:"name"`
	Path        string   `json:"path,omitempty"`
	Type        string   `json:"type"`
	Automatic   bool     `json:"automatic"`
	Fields      []string `json:"fields,omitempty"`
	Analyzer    string   `json:"analyzer"`
	FacetFields []string `json:"facet_fields,omitempty"`
	// Size is the number of indexed entries visible to a fresh searcher.
	Size uint64 `json:"size"`
	// Submitted and Published are the last assigned and last visible
	// write generations.
	Submitted int64 `json:"submitted"`
	Published int64 `json:"published"`
	// Committed is the generation of the last durable commit, or -1.
	Committed   int64     `json:"committed"`
	CommittedAt time.Time `json:"committed_at,omitzero"`
}

// Info reports the state of the open index.
func (e *Engine) Info(ctx context.Context) (Info, error) {
	live, err := e.current()
	if err != nil {
		return Info{}, err
	}
	size, err := e.Size(ctx)
	if err != nil {
		return Info{}, err
	}
	meta := e.Metadata()

	info := Info{
		Name:        e.name,
		Path:        e.path,
		Type:        e.def.Type.String(),
		Automatic:   e.def.Automatic,
		Fields:      append([]string(nil), e.def.Fields...),
		Analyzer:    live.store.Analyzer(),
		FacetFields: append([]string(nil), meta.FacetFields...),
		Size:        size,
		Submitted:   live.ctrl.Generation(),
		Published:   live.ctrl.Published(),
		Committed:   -1,
	}
	c, ok, err := live.store.LastCommit()
	if err != nil {
		return Info{}, err
	}
	if ok {
		info.Committed = c.Generation
		info.CommittedAt = c.Time
	}
	return info, nil
}
