package screengrid

// Project maps every record to screen space in input order.
//
// The result is index-aligned with records, which Aggregate relies on to pair
// points back to their source. Nothing is filtered here: a NaN or infinite
// coordinate is passed through and dropped later by the bounds check.
func Project[R any](records []R, position PositionFunc[R], weight WeightFunc[R], viewport ViewportProjector) []ProjectedPoint {
	points := make([]ProjectedPoint, len(records))
	for i, rec := range records {
		lon, lat := position(rec)
		x, y := viewport(lon, lat)
		points[i] = ProjectedPoint{X: x, Y: y, Weight: weight(rec)}
	}
	return points
}
