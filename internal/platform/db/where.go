package db

import "fmt"

// Where accumulates AND-ed SQL predicates with positional arguments.
type Where struct {
	clause string
	args   []interface{}
}

func NewWhere() *Where {
	return &Where{clause: " WHERE 1=1"}
}

// Add appends "AND expr". expr refers to its argument as $%d, or $%[1]d when
// the argument is used more than once.
func (w *Where) Add(expr string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clause += fmt.Sprintf(" AND "+expr, len(w.args))
}

func (w *Where) SQL() string { return w.clause }

func (w *Where) Args() []interface{} { return w.args }

// Page returns a LIMIT/OFFSET suffix and the full argument list. A limit of
// zero or less returns every row.
func (w *Where) Page(limit, offset int) (string, []interface{}) {
	if limit <= 0 {
		return "", w.args
	}
	args := append(append([]interface{}{}, w.args...), limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.args)+1, len(w.args)+2), args
}
