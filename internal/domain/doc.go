// Package domain models paleoclimate datasets as nested LiPD-style documents.
//
// # Data Source
//
// Datasets arrive as NOAA WDS-Paleo text templates, the semi-structured plain-text
// format used for archival submission at https://www.ncei.noaa.gov/products/paleoclimatology.
// The noaa package parses a template into a [Document]; the timeseries package
// flattens a Document into one record per data column and folds records back.
//
// # Template Conventions
//
// Comment lines:
//
//	Every metadata line starts with "#". Variable definitions start with "##".
//	Data rows (and the data header row) carry no marker.
//
// Sections:
//
//	"# Publication", "# Site_Information", "# Chronology:", "# Variables",
//	"# Data:" open a block; a run of at least five dashes ("#-----") closes it.
//
// Key/value lines:
//
//	"#   Study_Name: Lake Elsinore" splits on the first colon. Keys are camel
//	cased ("studyName"). A bare line following a key continues its value.
//
// Coordinates:
//
//	Northernmost/Southernmost latitude and Easternmost/Westernmost longitude.
//	Identical pairs collapse to a Point; distinct pairs become a four-corner
//	MultiPoint. See [BuildGeometry].
//
// Table files:
//
//	Values live in side CSV files without a header row, one row per source data
//	row, columns ordered by column number:
//	  <dataSetName>.paleoData<N>.measurementTable<N>.csv
//	  <dataSetName>.chron<N>.measurementTable<N>.csv
//
// # Warnings
//
// Parsing never fails as a whole. Recovered problems are reported as [Warning]
// values wrapping one of the sentinel errors in errors.go, so callers can
// classify them with errors.Is and write a quarantine log.
package domain
