// Package docstore is the document-store contract the chat core runs on:
// point reads, filtered queries, partial updates, deletes and push-based
// subscriptions that re-fire a full snapshot on every matching write.
package docstore

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// IDField 每条记录的主键字段
const IDField = "_id"

// Record 一条文档的字段集合；嵌套文档为 bson.M，数组为 primitive.A
type Record = bson.M

// Unsubscribe 释放订阅；可重复调用
type Unsubscribe func()

// SnapshotFunc 接收订阅命中的完整快照（全量替换，不是 diff）
type SnapshotFunc func(records []Record)

var ErrNotFound = errors.New("docstore: record not found")

type Store interface {
	// Put 写入（覆盖）一条记录；id 为空时由实现生成
	Put(ctx context.Context, collection, id string, rec Record) (string, error)
	Get(ctx context.Context, collection, id string) (Record, error)
	Query(ctx context.Context, collection string, q Query) ([]Record, error)
	// Update 只修改 fields 中给出的顶层字段；记录不存在返回 ErrNotFound
	Update(ctx context.Context, collection, id string, fields Record) error
	// Delete 删除记录；记录不存在不算错误
	Delete(ctx context.Context, collection, id string) error
	// Subscribe 立即推送一次当前快照，之后每次集合写入都重新推送
	Subscribe(ctx context.Context, collection string, q Query, fn SnapshotFunc) (Unsubscribe, error)
}

// ArrayUnion 用在 Update 的字段值里：把 values 中尚不存在的元素追加到数组字段
type ArrayUnion struct {
	Values []any
}

func Union(values ...any) ArrayUnion {
	return ArrayUnion{Values: values}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
