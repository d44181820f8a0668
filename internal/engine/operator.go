// Physical operators over the row/expression evaluation core that exec.go's
// materializing executeSelect already uses. exec.go runs a SELECT in
// successive whole-slice passes (FROM -> JOIN -> WHERE -> GROUP -> ORDER ->
// LIMIT); Operator instead exposes the same work as a pull-based
// Open/Next/Close tree, one row at a time, built on the same evalExpr/
// compare/truthy helpers and rowsFromTable/applyOffsetLimit/sortRows
// building blocks. executeSelect runs every single-table, join-free,
// CTE-free, UNION-free, non-DISTINCT SELECT through this tree; EXPLAIN
// drives the same tree and reports the operators visited and the row
// count of the final operator. Every other statement shape still runs through
// executeSelect's whole-slice passes.
package engine

import (
	"fmt"
	"io"
)

// Operator is a physical query-plan node. Open prepares the operator against
// env (and, for non-leaf operators, opens its children); Next returns rows
// one at a time until (nil, io.EOF); Close releases anything Open acquired.
type Operator interface {
	Open(env ExecEnv) error
	Next() (Row, error)
	Close() error
}

// PlanStep records one operator's identity and output cardinality, as
// collected by runPlan for EXPLAIN.
type PlanStep struct {
	Operator string
	Detail   string
	Rows     int
}

// SeqScanOp yields every row of a table in storage order, the way exec.go's
// rowsFromTable does for a non-virtual, non-subquery FROM target.
type SeqScanOp struct {
	Table string
	Alias string

	rows []Row
	pos  int
}

func (o *SeqScanOp) Open(env ExecEnv) error {
	t, err := env.db.Get(env.tenant, o.Table)
	if err != nil {
		return err
	}
	rows, _ := rowsFromTable(t, o.Alias)
	o.rows = rows
	o.pos = 0
	return nil
}

func (o *SeqScanOp) Next() (Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	r := o.rows[o.pos]
	o.pos++
	return r, nil
}

func (o *SeqScanOp) Close() error { return nil }

// FilterOp drops rows for which Pred does not evaluate truthy, mirroring
// exec.go's applyWhereClause but one row at a time.
type FilterOp struct {
	Child Operator
	Pred  Expr

	env ExecEnv
}

func (o *FilterOp) Open(env ExecEnv) error {
	o.env = env
	return o.Child.Open(env)
}

func (o *FilterOp) Next() (Row, error) {
	for {
		row, err := o.Child.Next()
		if err != nil {
			return nil, err
		}
		if o.Pred == nil {
			return row, nil
		}
		v, err := evalExpr(o.env, o.Pred, row)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return row, nil
		}
	}
}

func (o *FilterOp) Close() error { return o.Child.Close() }

// ProjectOp narrows each row to the selected expressions, evaluating Star
// items by passing the input row through unchanged.
type ProjectOp struct {
	Child Operator
	Items []SelectItem

	env ExecEnv
}

func (o *ProjectOp) Open(env ExecEnv) error {
	o.env = env
	return o.Child.Open(env)
}

func (o *ProjectOp) Next() (Row, error) {
	row, err := o.Child.Next()
	if err != nil {
		return nil, err
	}
	if len(o.Items) == 0 {
		return row, nil
	}
	out := make(Row, len(o.Items))
	for _, it := range o.Items {
		if it.Star {
			for k, v := range row {
				out[k] = v
			}
			continue
		}
		v, err := evalExpr(o.env, it.Expr, row)
		if err != nil {
			return nil, err
		}
		name := it.Alias
		if name == "" {
			name = exprDisplayName(it.Expr)
		}
		out[name] = v
	}
	return out, nil
}

func (o *ProjectOp) Close() error { return o.Child.Close() }

// SortOp materializes its child and replays it in order, the same
// single-pass tradeoff exec.go's sortRows makes.
type SortOp struct {
	Child   Operator
	OrderBy []OrderItem

	rows []Row
	pos  int
}

func (o *SortOp) Open(env ExecEnv) error {
	if err := o.Child.Open(env); err != nil {
		return err
	}
	var rows []Row
	for {
		r, err := o.Child.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}
	o.rows = sortRows(rows, o.OrderBy)
	o.pos = 0
	return nil
}

func (o *SortOp) Next() (Row, error) {
	if o.pos >= len(o.rows) {
		return nil, io.EOF
	}
	r := o.rows[o.pos]
	o.pos++
	return r, nil
}

func (o *SortOp) Close() error { return o.Child.Close() }

// LimitOp caps output at Limit rows after skipping Offset, mirroring
// exec.go's applyOffsetLimit.
type LimitOp struct {
	Child  Operator
	Limit  *int
	Offset *int

	skipped int
	emitted int
}

func (o *LimitOp) Open(env ExecEnv) error { return o.Child.Open(env) }

func (o *LimitOp) Next() (Row, error) {
	if o.Limit != nil && o.emitted >= *o.Limit {
		return nil, io.EOF
	}
	for {
		r, err := o.Child.Next()
		if err != nil {
			return nil, err
		}
		if o.Offset != nil && o.skipped < *o.Offset {
			o.skipped++
			continue
		}
		o.emitted++
		return r, nil
	}
}

func (o *LimitOp) Close() error { return o.Child.Close() }

// NestedLoopJoinOp pairs every outer row with every inner row whose On
// predicate evaluates truthy against the merged row, the brute-force join
// strategy exec.go's processJoins uses for INNER/LEFT joins.
type NestedLoopJoinOp struct {
	Outer Operator
	Inner func() Operator // factory: Inner is re-opened per outer row
	On    Expr
	Left  bool // LEFT JOIN: emit outer row with nulls when no inner match

	env        ExecEnv
	outerRow   Row
	innerOp    Operator
	haveOuter  bool
	matchedOne bool
}

func (o *NestedLoopJoinOp) Open(env ExecEnv) error {
	o.env = env
	return o.Outer.Open(env)
}

func (o *NestedLoopJoinOp) nextOuter() error {
	if o.innerOp != nil {
		_ = o.innerOp.Close()
		o.innerOp = nil
	}
	row, err := o.Outer.Next()
	if err != nil {
		return err
	}
	o.outerRow = row
	o.innerOp = o.Inner()
	if err := o.innerOp.Open(o.env); err != nil {
		return err
	}
	o.matchedOne = false
	o.haveOuter = true
	return nil
}

func (o *NestedLoopJoinOp) Next() (Row, error) {
	if !o.haveOuter {
		if err := o.nextOuter(); err != nil {
			return nil, err
		}
	}
	for {
		innerRow, err := o.innerOp.Next()
		if err == io.EOF {
			if o.Left && !o.matchedOne {
				merged := mergeRows(o.outerRow, nil)
				if err := o.nextOuter(); err != nil && err != io.EOF {
					return nil, err
				} else if err == io.EOF {
					o.haveOuter = false
				}
				return merged, nil
			}
			if err := o.nextOuter(); err != nil {
				if err == io.EOF {
					o.haveOuter = false
				}
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		merged := mergeRows(o.outerRow, innerRow)
		if o.On != nil {
			v, err := evalExpr(o.env, o.On, merged)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				continue
			}
		}
		o.matchedOne = true
		return merged, nil
	}
}

func (o *NestedLoopJoinOp) Close() error {
	if o.innerOp != nil {
		_ = o.innerOp.Close()
	}
	return o.Outer.Close()
}

func mergeRows(a, b Row) Row {
	out := make(Row, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// HashAggregateOp builds a hash map of group_key -> accumulator state in one
// pass over its child, then replays the finished groups, following the same
// shape as exec.go's processGroupByHaving without materializing Having
// filtering (callers wrap HashAggregateOp in a FilterOp for HAVING).
type HashAggregateOp struct {
	Child     Operator
	GroupBy   []VarRef
	Aggs      []SelectItem
	outRows   []Row
	pos       int
	evaluated bool
}

func (o *HashAggregateOp) Open(env ExecEnv) error {
	if err := o.Child.Open(env); err != nil {
		return err
	}
	var rows []Row
	for {
		r, err := o.Child.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}
	sel := &Select{GroupBy: o.GroupBy, Projs: o.Aggs}
	outRows, _, err := processGroupByHaving(env, sel, rows)
	if err != nil {
		return err
	}
	o.outRows = outRows
	o.pos = 0
	o.evaluated = true
	return nil
}

func (o *HashAggregateOp) Next() (Row, error) {
	if o.pos >= len(o.outRows) {
		return nil, io.EOF
	}
	r := o.outRows[o.pos]
	o.pos++
	return r, nil
}

func (o *HashAggregateOp) Close() error { return o.Child.Close() }

// exprDisplayName produces a column label for an unaliased projection item,
// mirroring the teacher's var-ref-as-name convention in SELECT col FROM t.
func exprDisplayName(e Expr) string {
	if v, ok := e.(*VarRef); ok {
		return v.Name
	}
	return fmt.Sprintf("%v", e)
}

// planColumns derives executeSelect's result column order for a plan built
// by buildPlan. A Star item's expansion order depends on the rows actually
// produced (ProjectOp just copies map keys), so any Star falls back to
// columnsFromRows; otherwise the items give an exact, stable order.
func planColumns(items []SelectItem, rows []Row) []string {
	for _, it := range items {
		if it.Star {
			return columnsFromRows(rows)
		}
	}
	cols := make([]string, 0, len(items))
	for _, it := range items {
		name := it.Alias
		if name == "" {
			name = exprDisplayName(it.Expr)
		}
		cols = append(cols, name)
	}
	return cols
}

// buildPlan turns a single-table SELECT (no joins, no subquery/table-func
// FROM, no CTE, no UNION) into an Operator tree. executeSelect calls this
// for every statement shape it covers; anything it rejects falls back to
// executeSelect's general-purpose whole-slice passes.
func buildPlan(s *Select) (Operator, error) {
	if s.From.Table == "" || s.From.Subquery != nil || s.From.TableFunc != nil {
		return nil, fmt.Errorf("EXPLAIN: only plain single-table FROM targets are supported")
	}
	if len(s.Joins) > 0 {
		return nil, fmt.Errorf("EXPLAIN: joined queries are not supported yet")
	}

	var plan Operator = &SeqScanOp{Table: s.From.Table, Alias: aliasOr(s.From)}
	if s.Where != nil {
		plan = &FilterOp{Child: plan, Pred: s.Where}
	}
	if len(s.GroupBy) > 0 {
		plan = &HashAggregateOp{Child: plan, GroupBy: s.GroupBy, Aggs: s.Projs}
		if s.Having != nil {
			plan = &FilterOp{Child: plan, Pred: s.Having}
		}
	} else {
		plan = &ProjectOp{Child: plan, Items: s.Projs}
	}
	if len(s.OrderBy) > 0 {
		plan = &SortOp{Child: plan, OrderBy: s.OrderBy}
	}
	if s.Limit != nil || s.Offset != nil {
		plan = &LimitOp{Child: plan, Limit: s.Limit, Offset: s.Offset}
	}
	return plan, nil
}

// runPlan drains root and lists the operators in visitation order
// (deepest-first, matching how Open recurses); only root's row count is
// recorded.
func runPlan(env ExecEnv, root Operator) ([]Row, []PlanStep, error) {
	if err := root.Open(env); err != nil {
		return nil, nil, err
	}
	defer root.Close()

	var rows []Row
	for {
		r, err := root.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, r)
	}

	steps := describePlan(root, len(rows))
	return rows, steps, nil
}

// describePlan walks the operator tree, innermost child first, labelling
// each node for EXPLAIN output. Only the root's step carries a row count
// (rootRows); every child step's Rows is left at 0.
func describePlan(op Operator, rootRows int) []PlanStep {
	var steps []PlanStep
	var walk func(o Operator, isRoot bool)
	walk = func(o Operator, isRoot bool) {
		switch v := o.(type) {
		case *SeqScanOp:
			steps = append(steps, PlanStep{Operator: "SeqScan", Detail: v.Table})
		case *FilterOp:
			walk(v.Child, false)
			steps = append(steps, PlanStep{Operator: "Filter"})
		case *ProjectOp:
			walk(v.Child, false)
			steps = append(steps, PlanStep{Operator: "Project"})
		case *SortOp:
			walk(v.Child, false)
			steps = append(steps, PlanStep{Operator: "Sort"})
		case *LimitOp:
			walk(v.Child, false)
			steps = append(steps, PlanStep{Operator: "Limit"})
		case *HashAggregateOp:
			walk(v.Child, false)
			steps = append(steps, PlanStep{Operator: "HashAggregate"})
		case *NestedLoopJoinOp:
			walk(v.Outer, false)
			steps = append(steps, PlanStep{Operator: "NestedLoopJoin"})
		}
		if isRoot && len(steps) > 0 {
			steps[len(steps)-1].Rows = rootRows
		}
	}
	walk(op, true)
	return steps
}
