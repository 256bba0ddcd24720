package screengrid

// Statistics summarizes the values of a Grid.
//
// A cell "has data" when its value is strictly positive. Max, Min and Avg
// are taken over those cells only and are 0 when there are none. TotalValue
// sums every cell, so it may be negative.
type Statistics struct {
	TotalCells    int     `json:"total_cells"`
	CellsWithData int     `json:"cells_with_data"`
	MaxValue      float64 `json:"max_value"`
	MinValue      float64 `json:"min_value"`
	AvgValue      float64 `json:"avg_value"`
	TotalValue    float64 `json:"total_value"`
}

// GetStatistics computes Statistics in a single pass over g.Values.
// A nil grid yields the zero Statistics.
func GetStatistics[R any](g *Grid[R]) Statistics {
	var st Statistics
	if g == nil {
		return st
	}
	st.TotalCells = len(g.Values)

	var positive float64
	for _, v := range g.Values {
		st.TotalValue += v
		if v <= 0 {
			continue
		}
		if st.CellsWithData == 0 || v > st.MaxValue {
			st.MaxValue = v
		}
		if st.CellsWithData == 0 || v < st.MinValue {
			st.MinValue = v
		}
		positive += v
		st.CellsWithData++
	}
	if st.CellsWithData > 0 {
		st.AvgValue = positive / float64(st.CellsWithData)
	}
	return st
}

// Statistics is shorthand for GetStatistics(g).
func (g *Grid[R]) Statistics() Statistics {
	return GetStatistics(g)
}
