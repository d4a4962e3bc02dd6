package docstore

import (
	"fmt"
	"reflect"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Op int

const (
	OpEq       Op = iota // field == value
	OpIn                 // field ∈ values
	OpContains           // 数组字段包含 value
)

type Cond struct {
	Field string
	Op    Op
	Value any
}

// Query 只支持顶层字段上的等值 / 集合成员过滤，外加可选排序与条数上限
type Query struct {
	Conds  []Cond
	SortBy string
	Desc   bool
	Limit  int
}

func Q() Query { return Query{} }

func (q Query) Eq(field string, v any) Query {
	q.Conds = append(append([]Cond(nil), q.Conds...), Cond{Field: field, Op: OpEq, Value: v})
	return q
}

func (q Query) In(field string, values ...any) Query {
	q.Conds = append(append([]Cond(nil), q.Conds...), Cond{Field: field, Op: OpIn, Value: values})
	return q
}

func (q Query) InStrings(field string, values []string) Query {
	q.Conds = append(append([]Cond(nil), q.Conds...), Cond{Field: field, Op: OpIn, Value: append([]string(nil), values...)})
	return q
}

func (q Query) Contains(field string, v any) Query {
	q.Conds = append(append([]Cond(nil), q.Conds...), Cond{Field: field, Op: OpContains, Value: v})
	return q
}

func (q Query) Sort(field string, desc bool) Query {
	q.SortBy, q.Desc = field, desc
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

func (q Query) String() string {
	return fmt.Sprintf("conds=%v sort=%s desc=%v limit=%d", q.Conds, q.SortBy, q.Desc, q.Limit)
}

// Match 在内存中判断一条记录是否命中全部条件
func (q Query) Match(rec Record) bool {
	for _, c := range q.Conds {
		v, ok := rec[c.Field]
		switch c.Op {
		case OpEq:
			if !ok || !ValueEqual(v, c.Value) {
				return false
			}
		case OpIn:
			if !ok || !containsValue(c.Value, v) {
				return false
			}
		case OpContains:
			if !ok || !containsValue(v, c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply 对已按自然顺序排列的命中结果做排序与截断；排序稳定，相等时保持自然顺序
func (q Query) Apply(recs []Record) []Record {
	if q.SortBy != "" {
		sort.SliceStable(recs, func(i, j int) bool {
			c := CompareValues(recs[i][q.SortBy], recs[j][q.SortBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs
}

func containsValue(list any, v any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if ValueEqual(rv.Index(i).Interface(), v) {
			return true
		}
	}
	return false
}

// ValueEqual 比较两个字段值；数字按数值比较（int32/int64/float64 混用）
func ValueEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// CompareValues 返回 -1/0/1；nil 最小，数字按数值，字符串按字典序，其它视为相等
func CompareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case primitive.DateTime:
		return float64(n), true
	}
	return 0, false
}

func normalize(v any) any {
	switch t := v.(type) {
	case primitive.A:
		return []any(t)
	case bson.D:
		return t.Map()
	}
	return v
}
