package bootstrap

import (
	"bytes"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/paulmach/orb/geojson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InputName is the worker binding that holds Preamble.Input.
const InputName = "__geoexec_input__"

// preambleCode binds the names generated code may rely on.
var preambleCode = strings.Join([]string{
	"geojson_data = " + InputName + `["collection"]`,
	"geometries = [shape(f[\"geometry\"]) for f in " + InputName + `["features"]]`,
	"properties = [f[\"properties\"] for f in " + InputName + `["features"]]`,
	"gdf = gpd.GeoDataFrame(properties, columns=" + InputName + `["columns"], geometry=geometries, crs="EPSG:4326")`,
}, "\n")

// Preamble is the bootstrapped context for one request.
type Preamble struct {
	// Code is the Python text that runs before the generated code.
	Code string

	// Input is the JSON document exposed to the worker as InputName.
	Input []byte

	// Frame is the parsed collection.
	Frame Frame

	// Requires names the worker modules Code depends on.
	Requires []string
}

// preambleRequires are the modules preambleCode imports through gpd and shape.
var preambleRequires = []string{"geopandas", "shapely"}

// Empty reports whether there is no input to bootstrap.
func (p Preamble) Empty() bool {
	return p.Code == "" && len(p.Input) == 0
}

type inputDoc struct {
	Columns    []string            `json:"columns"`
	Features   []inputFeature      `json:"features"`
	Collection jsoniter.RawMessage `json:"collection"`
}

// inputFeature carries a feature's geometry and property values as they
// appear in the request, so coordinates and numbers reach the worker unchanged.
type inputFeature struct {
	Geometry   jsoniter.RawMessage            `json:"geometry"`
	Properties map[string]jsoniter.RawMessage `json:"properties"`
}

var jsonNull = jsoniter.RawMessage("null")

// Bootstrap validates raw as a FeatureCollection and builds its preamble.
// Empty input, or JSON null, yields the zero Preamble.
func Bootstrap(raw []byte) (Preamble, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Preamble{}, nil
	}

	fc, order, features, err := parse(raw)
	if err != nil {
		return Preamble{}, err
	}
	frame := NewFrame(fc, order)

	doc := inputDoc{
		Columns:    frame.Columns,
		Features:   make([]inputFeature, len(frame.Rows)),
		Collection: raw,
	}
	if doc.Columns == nil {
		doc.Columns = []string{}
	}
	for i, data := range features {
		var src inputFeature
		if err := json.Unmarshal(data, &src); err != nil {
			return Preamble{}, featureError(i, "invalid feature", err)
		}
		props := make(map[string]jsoniter.RawMessage, len(doc.Columns))
		for _, c := range doc.Columns {
			v, ok := src.Properties[c]
			if !ok || len(v) == 0 {
				v = jsonNull
			}
			props[c] = v
		}
		doc.Features[i] = inputFeature{Geometry: src.Geometry, Properties: props}
	}
	input, err := json.Marshal(doc)
	if err != nil {
		return Preamble{}, documentError("encode input", err)
	}

	return Preamble{
		Code:     preambleCode,
		Input:    input,
		Frame:    frame,
		Requires: append([]string(nil), preambleRequires...),
	}, nil
}

// Parse validates raw and decodes it. It also returns each feature's
// property keys in document order.
func Parse(raw []byte) (*geojson.FeatureCollection, [][]string, error) {
	fc, order, _, err := parse(raw)
	return fc, order, err
}

func parse(raw []byte) (*geojson.FeatureCollection, [][]string, [][]byte, error) {
	features, err := scanDocument(raw)
	if err != nil {
		return nil, nil, nil, err
	}

	fc := geojson.NewFeatureCollection()
	order := make([][]string, len(features))
	for i, data := range features {
		if err := checkGeometry(i, data); err != nil {
			return nil, nil, nil, err
		}
		feat, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, nil, nil, featureError(i, "invalid feature", err)
		}
		if feat.Geometry == nil {
			return nil, nil, nil, featureError(i, "geometry is null", nil)
		}
		if feat.Properties == nil {
			feat.Properties = geojson.Properties{}
		}
		fc.Append(feat)
		order[i] = propertyKeys(data)
	}
	return fc, order, features, nil
}

// scanDocument checks the document's shape and returns the raw features.
func scanDocument(raw []byte) ([][]byte, error) {
	iter := json.BorrowIterator(raw)
	defer json.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, documentError("document is not a JSON object", nil)
	}

	var (
		typ         string
		hasFeatures bool
		features    [][]byte
		shapeErr    *MalformedInputError
	)
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		switch key {
		case "type":
			if it.WhatIsNext() != jsoniter.StringValue {
				it.Skip()
				return true
			}
			typ = it.ReadString()
		case "features":
			hasFeatures = true
			if it.WhatIsNext() != jsoniter.ArrayValue {
				shapeErr = documentError("features is not an array", nil)
				it.Skip()
				return true
			}
			features = [][]byte{}
			i := 0
			it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
				if it.WhatIsNext() != jsoniter.ObjectValue && shapeErr == nil {
					shapeErr = featureError(i, "feature is not an object", nil)
				}
				features = append(features, append([]byte(nil), it.SkipAndReturnBytes()...))
				i++
				return true
			})
		default:
			it.Skip()
		}
		return true
	})
	if iter.Error != nil {
		return nil, documentError("invalid JSON", iter.Error)
	}
	if typ != "FeatureCollection" {
		return nil, documentError(`type must be "FeatureCollection"`, nil)
	}
	if !hasFeatures {
		return nil, documentError("features is missing", nil)
	}
	if shapeErr != nil {
		return nil, shapeErr
	}
	return features, nil
}

// checkGeometry rejects null or absent geometries before orb sees them.
func checkGeometry(i int, data []byte) error {
	geom := json.Get(data, "geometry")
	if geom.LastError() != nil || geom.ValueType() == jsoniter.NilValue || geom.ValueType() == jsoniter.InvalidValue {
		return featureError(i, "geometry is null", nil)
	}
	if geom.ValueType() != jsoniter.ObjectValue {
		return featureError(i, "geometry is not an object", nil)
	}
	return nil
}

func propertyKeys(data []byte) []string {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	keys := []string{}
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		if key != "properties" || it.WhatIsNext() != jsoniter.ObjectValue {
			it.Skip()
			return true
		}
		it.ReadObjectCB(func(it *jsoniter.Iterator, prop string) bool {
			keys = append(keys, prop)
			it.Skip()
			return true
		})
		return true
	})
	return keys
}
