package metricsql

import "fmt"

// rollupFunctions require a range-vector argument (a selector with
// [window], or a subquery) per spec.md §4.6's type rules.
var rollupFunctions = map[string]bool{
	"rate": true, "increase": true, "irate": true, "delta": true, "idelta": true,
	"changes": true, "resets": true,
	"avg_over_time": true, "min_over_time": true, "max_over_time": true,
	"sum_over_time": true, "count_over_time": true,
	"stddev_over_time": true, "stdvar_over_time": true,
	"quantile_over_time": true,
}

// transformFunctions operate elementwise over an instant vector or
// scalar and never require a range vector.
var transformFunctions = map[string]bool{
	"abs": true, "ceil": true, "floor": true, "round": true, "sqrt": true, "exp": true,
	"ln": true, "log2": true, "log10": true, "clamp": true, "clamp_min": true, "clamp_max": true,
	"sort": true, "sort_desc": true, "sgn": true,
}

// labelFunctions manipulate a series' label set.
var labelFunctions = map[string]bool{
	"label_replace": true, "label_join": true, "label_del": true, "label_keep": true,
}

// IsRollupFunction reports whether name is one of the counter/gauge
// rollup functions that require a range-vector argument.
func IsRollupFunction(name string) bool { return rollupFunctions[name] }

// IsTransformFunction reports whether name is an elementwise transform.
func IsTransformFunction(name string) bool { return transformFunctions[name] }

// IsLabelFunction reports whether name manipulates label sets.
func IsLabelFunction(name string) bool { return labelFunctions[name] }

// typeCheck walks the AST enforcing spec.md §4.6's type rules: rollup
// functions require their last argument (the only one, or the one after
// quantile_over_time's quantile) to resolve to a range vector (a
// windowed selector or a subquery); everything else is permissive,
// since scalars/instant-vectors are interchangeable enough at parse
// time that stricter checks belong to the evaluator, not the parser.
func typeCheck(e Expr) error {
	switch v := e.(type) {
	case *FunctionCall:
		for _, a := range v.Args {
			if err := typeCheck(a); err != nil {
				return err
			}
		}
		if IsRollupFunction(v.Name) {
			if len(v.Args) == 0 {
				return fmt.Errorf("metricsql: %s() requires a range-vector argument", v.Name)
			}
			arg := v.Args[len(v.Args)-1]
			if !isRangeVector(arg) {
				return fmt.Errorf("metricsql: %s() requires a range-vector argument, got %T", v.Name, arg)
			}
		}
		return nil
	case *AggregateExpr:
		if v.Param != nil {
			if err := typeCheck(v.Param); err != nil {
				return err
			}
		}
		return typeCheck(v.Expr)
	case *BinaryExpr:
		if err := typeCheck(v.Left); err != nil {
			return err
		}
		return typeCheck(v.Right)
	case *UnaryExpr:
		return typeCheck(v.Expr)
	case *ParenExpr:
		return typeCheck(v.Expr)
	case *SubqueryExpr:
		return typeCheck(v.Expr)
	default:
		return nil
	}
}

func isRangeVector(e Expr) bool {
	switch v := e.(type) {
	case *VectorSelector:
		return v.IsRangeVector()
	case *SubqueryExpr:
		return true
	case *ParenExpr:
		return isRangeVector(v.Expr)
	default:
		return false
	}
}
