// Package screengrid aggregates weighted geographic points into a uniform
// screen-space grid and answers cell queries over the result.
//
// A pass runs Project, then Aggregate. The resulting Grid is immutable once
// returned: a viewport or data change produces a new Grid which replaces the
// old one wholesale. QueryEngine holds the currently bound Grid for
// interactive lookups (hover, click, region selection).
//
// All coordinates are logical pixels relative to the top-left corner of the
// rendering surface.
package screengrid
