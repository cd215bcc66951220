package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Value is a result binding read back from a worker.
type Value struct {
	// Type is the Python type name (GeoDataFrame, Polygon, int, ...).
	Type string `json:"type"`

	// Geo is true when the value exposed __geo_interface__ and Data is GeoJSON.
	Geo bool `json:"geo"`

	// CRS is the coordinate reference system of geospatial values, if any.
	CRS string `json:"crs,omitempty"`

	// Data is the JSON encoding of the value.
	Data json.RawMessage `json:"data"`
}

// IsZero reports whether no value was read back.
func (v Value) IsZero() bool {
	return v.Type == "" && len(v.Data) == 0
}

// Decode unmarshals Data into out.
func (v Value) Decode(out any) error {
	if len(v.Data) == 0 {
		return fmt.Errorf("value %s carries no data", v.Type)
	}
	return json.Unmarshal(v.Data, out)
}

// GeoJSONType returns the "type" member of a geospatial value.
func (v Value) GeoJSONType() string {
	if !v.Geo {
		return ""
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(v.Data, &head); err != nil {
		return ""
	}
	return head.Type
}

// FeatureCollection decodes a GeoDataFrame or GeoSeries result.
func (v Value) FeatureCollection() (*geojson.FeatureCollection, error) {
	if v.GeoJSONType() != "FeatureCollection" {
		return nil, fmt.Errorf("value %s is not a feature collection", v.Type)
	}
	return geojson.UnmarshalFeatureCollection(v.Data)
}

// Geometries flattens a geospatial value into its geometries, in order.
func (v Value) Geometries() ([]orb.Geometry, error) {
	switch v.GeoJSONType() {
	case "":
		return nil, fmt.Errorf("value %s is not geospatial", v.Type)
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(v.Data)
		if err != nil {
			return nil, err
		}
		out := make([]orb.Geometry, 0, len(fc.Features))
		for _, f := range fc.Features {
			out = append(out, f.Geometry)
		}
		return out, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(v.Data)
		if err != nil {
			return nil, err
		}
		return []orb.Geometry{f.Geometry}, nil
	default:
		g, err := geojson.UnmarshalGeometry(v.Data)
		if err != nil {
			return nil, err
		}
		return []orb.Geometry{g.Geometry()}, nil
	}
}

// Equal reports whether two values are structurally equal.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type || v.Geo != other.Geo || v.CRS != other.CRS {
		return false
	}
	return jsonEqual(v.Data, other.Data)
}

func jsonEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return bytes.Equal(ab, bb)
}
