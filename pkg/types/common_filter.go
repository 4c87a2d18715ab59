package types

import (
	"fmt"

	"gorm.io/gorm/clause"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq    CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt    CommonFilterOperator = "lt"
	CommonFilterOperatorLte   CommonFilterOperator = "lte"
	CommonFilterOperatorGt    CommonFilterOperator = "gt"
	CommonFilterOperatorGte   CommonFilterOperator = "gte"
	CommonFilterOperatorRange CommonFilterOperator = "range"
	CommonFilterOperatorIn    CommonFilterOperator = "in"
)

// CommonFilter is an admin list filter on a single column.
type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
}

// Validate rejects columns outside the allow list and operators without enough values.
func (f *CommonFilter) Validate(allowed map[string]bool) error {
	if f == nil {
		return fmt.Errorf("filter is nil")
	}
	if !allowed[f.Field] {
		return fmt.Errorf("filter field %q is not allowed", f.Field)
	}
	switch f.Operator {
	case CommonFilterOperatorEq, CommonFilterOperatorNotEq, CommonFilterOperatorLt, CommonFilterOperatorLte,
		CommonFilterOperatorGt, CommonFilterOperatorGte, CommonFilterOperatorIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("filter %q needs a value", f.Field)
		}
	case CommonFilterOperatorRange:
		if len(f.Values) < 2 {
			return fmt.Errorf("range filter %q needs two values", f.Field)
		}
	default:
		return fmt.Errorf("unsupported filter operator %q", f.Operator)
	}
	return nil
}

// Build writes the filter as a GORM expression. Call Validate first.
func (f *CommonFilter) Build(builder clause.Builder) {
	if len(f.Values) == 0 {
		return
	}

	value := f.Values[0]
	column := clause.Column{Name: f.Field}

	switch f.Operator {
	case CommonFilterOperatorEq:
		clause.Eq{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorNotEq:
		clause.Neq{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: column, Value: value}.Build(builder)
	case CommonFilterOperatorRange:
		clause.And(clause.Gte{Column: column, Value: f.Values[0]}, clause.Lte{Column: column, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: column, Values: f.Values}.Build(builder)
	}
}

// CommonFilters joins filters with AND; an empty list matches everything.
type CommonFilters []*CommonFilter

func (fs CommonFilters) Build(builder clause.Builder) {
	if len(fs) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, f := range fs {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		f.Build(builder)
	}
}
