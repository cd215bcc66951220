// Package bootstrap turns an input GeoJSON FeatureCollection into the
// preamble that precedes generated code.
//
// The collection is validated before anything runs. Valid input becomes a
// [Frame] (one row per feature, a column per property key in order of first
// appearance) and a [Preamble]. The preamble's Python text never embeds
// property values: it reads everything from the JSON input document that the
// worker exposes as __geoexec_input__, and binds geojson_data, geometries,
// properties and the GeoDataFrame gdf.
package bootstrap
