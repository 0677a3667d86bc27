package value

// Row is an ordered mapping of column name to Value. Column order follows
// the engine's result ordering.
type Row struct {
	Columns []string
	Values  []Value
}

// Get returns the value for a column name.
func (r *Row) Get(column string) (Value, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return Null(), false
}

// QueryResult is the normalized result of any engine execution.
type QueryResult struct {
	Rows []Row

	// RowsAffected is set for write statements when the driver reports it.
	RowsAffected *int64

	// LastInsertID is set only by engines whose driver reports it.
	LastInsertID *int64
}

// RowCount returns the number of result rows.
func (q *QueryResult) RowCount() int {
	return len(q.Rows)
}

// Affected returns RowsAffected or 0 when the driver did not report it.
func (q *QueryResult) Affected() int64 {
	if q.RowsAffected == nil {
		return 0
	}
	return *q.RowsAffected
}
