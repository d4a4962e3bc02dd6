package mongoutil

import (
	"context"

	"PPChatSync/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type IndexSpec struct {
	Collection string
	Keys       bson.D
	Unique     bool
}

// EnsureIndexes CreateMany 幂等：已存在的同名同键索引不会报错
func EnsureIndexes(ctx context.Context, db *mongo.Database, specs []IndexSpec) error {
	byColl := map[string][]mongo.IndexModel{}
	order := make([]string, 0)
	for _, s := range specs {
		if _, ok := byColl[s.Collection]; !ok {
			order = append(order, s.Collection)
		}
		m := mongo.IndexModel{Keys: s.Keys}
		if s.Unique {
			m.Options = options.Index().SetUnique(true)
		}
		byColl[s.Collection] = append(byColl[s.Collection], m)
	}
	for _, coll := range order {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, byColl[coll]); err != nil {
			return errs.WrapMsg(err, "create indexes", "collection", coll)
		}
	}
	return nil
}
