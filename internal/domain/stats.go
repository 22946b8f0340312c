package domain

import "time"

// Stat is one computed statistic. Undefined stats stay explicitly undefined
// through export rather than being dropped or coerced to zero.
type Stat struct {
	Value   float64
	Defined bool
}

// Undefined is the explicit "no value" marker.
var Undefined = Stat{}

// DefinedStat wraps a concrete value.
func DefinedStat(v float64) Stat {
	return Stat{Value: v, Defined: true}
}

// ResultSet maps geometry identity to named statistics, preserving the input
// geometry order and the statistic column order for tabular export.
type ResultSet struct {
	Columns []string
	Order   []string
	Stats   map[string]map[string]Stat

	// Partial marks a result produced from incomplete inputs, such as a
	// footprint layer with failed tiles. Warnings carry the detail.
	Partial  bool
	Warnings []string

	GeneratedAt time.Time
}

// NewResultSet creates an empty result set with a fixed column order.
func NewResultSet(columns []string) *ResultSet {
	return &ResultSet{
		Columns:     columns,
		Stats:       make(map[string]map[string]Stat),
		GeneratedAt: clock.Now(),
	}
}

// Set records one statistic for a geometry, registering the identity on
// first use so iteration order follows insertion order.
func (rs *ResultSet) Set(id, column string, s Stat) {
	row, ok := rs.Stats[id]
	if !ok {
		row = make(map[string]Stat, len(rs.Columns))
		rs.Stats[id] = row
		rs.Order = append(rs.Order, id)
	}
	row[column] = s
}

// Get returns the statistic for a geometry and column; missing entries are
// undefined, never absent.
func (rs *ResultSet) Get(id, column string) Stat {
	if row, ok := rs.Stats[id]; ok {
		if s, ok := row[column]; ok {
			return s
		}
	}
	return Undefined
}

// Warn marks the result partial with an explanatory message.
func (rs *ResultSet) Warn(msg string) {
	rs.Partial = true
	rs.Warnings = append(rs.Warnings, msg)
}
