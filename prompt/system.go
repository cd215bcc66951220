package prompt

import (
	"fmt"
	"strings"
)

const persona = "You are a professional geo-information scientist and programmer good at Python. " +
	"You have worked on geographic information science for more than 20 years and know every detail and " +
	"pitfall of processing spatial data and coding. Your programs are robust to varied data: you check column " +
	"data types, avoid mistakes when joining tables, and remove NaN cells before further processing. " +
	"Your functions are coherent and connect well, with consistent names, parameter types and calling order."

// SystemPrompt renders the fixed system instruction. When hasInput is set the
// instruction describes the bootstrapped gdf and its columns.
func SystemPrompt(resultName string, hasInput bool, columns []string) string {
	if resultName == "" {
		resultName = DefaultResultName
	}
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString("Write Python using geopandas and shapely. Reply with one ```python fenced block; prose is not needed.\n")
	fmt.Fprintf(&b, "Ensure that the final GeoDataFrame or GeoSeries in your code is assigned to the variable '%s'. ", resultName)
	b.WriteString("This variable will always hold the main geospatial result to be extracted.\n")
	b.WriteString("The names gpd (geopandas), shape (shapely.geometry.shape) and json are already available. " +
		"Files, network access and subprocesses are not.")
	if hasInput {
		b.WriteString("\n\nThe input is already loaded: geojson_data is the FeatureCollection as a dict, " +
			"geometries and properties are its per-feature lists, and gdf is a GeoDataFrame in EPSG:4326 built from them.")
		if len(columns) > 0 {
			fmt.Fprintf(&b, " gdf has the columns: %s.", strings.Join(columns, ", "))
		}
		b.WriteString(" Do not redefine gdf from scratch.")
	}
	return b.String()
}
