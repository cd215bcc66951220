package bootstrap

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Row is one feature: its geometry and one value per frame column.
type Row struct {
	Geometry   orb.Geometry
	Properties map[string]any
}

// Frame is the tabular view of a collection.
type Frame struct {
	Columns []string
	Rows    []Row
}

// NewFrame builds a Frame from fc. keyOrder, when non-nil, gives each
// feature's property keys in document order; otherwise keys are sorted per
// feature. Rows missing a column hold nil for it.
func NewFrame(fc *geojson.FeatureCollection, keyOrder [][]string) Frame {
	var f Frame
	if fc == nil {
		return f
	}
	seen := make(map[string]struct{})
	for i, feat := range fc.Features {
		var keys []string
		if i < len(keyOrder) && keyOrder[i] != nil {
			keys = keyOrder[i]
		} else {
			keys = make([]string, 0, len(feat.Properties))
			for k := range feat.Properties {
				keys = append(keys, k)
			}
			sort.Strings(keys)
		}
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			f.Columns = append(f.Columns, k)
		}
	}

	f.Rows = make([]Row, len(fc.Features))
	for i, feat := range fc.Features {
		props := make(map[string]any, len(f.Columns))
		for _, c := range f.Columns {
			props[c] = feat.Properties[c]
		}
		f.Rows[i] = Row{Geometry: feat.Geometry, Properties: props}
	}
	return f
}

// Len returns the number of rows.
func (f Frame) Len() int {
	return len(f.Rows)
}
