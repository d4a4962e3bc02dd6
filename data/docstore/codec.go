package docstore

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Encode 把带 bson tag 的结构体转成 Record（经由 BSON 编码，保证与 Mongo 后端同构）
func Encode(v any) (Record, error) {
	if rec, ok := v.(Record); ok {
		return Normalize(rec)
	}
	b, err := bson.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "docstore: encode %T", v)
	}
	var rec Record
	if err := bson.Unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(err, "docstore: encode")
	}
	return rec, nil
}

// Normalize 把任意 Record 规整成 BSON 往返后的形态（嵌套为 bson.M，数组为 primitive.A）
func Normalize(rec Record) (Record, error) {
	b, err := bson.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "docstore: normalize")
	}
	var out Record
	if err := bson.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "docstore: normalize")
	}
	return out, nil
}

func Decode(rec Record, out any) error {
	b, err := bson.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "docstore: decode")
	}
	if err := bson.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, "docstore: decode into %T", out)
	}
	return nil
}

func DecodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := Decode(rec, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
