package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, Query{}.Where("session_id", 4).Validate())
	assert.NoError(t, Query{OrderBy: "created_at", Limit: 10}.WhereOp("amount", OpGte, 100).Validate())

	assert.Error(t, Query{}.Where("body'; drop", 1).Validate())
	assert.Error(t, Query{}.WhereOp("amount", Operator("like"), 1).Validate())
	assert.Error(t, Query{OrderBy: "Amount"}.Validate())
	assert.Error(t, Query{Limit: -1}.Validate())
}

func TestQuery_Apply(t *testing.T) {
	docs := []map[string]any{
		{"id": float64(1), "date": "2026-10-15", "status": "closed", "amount": float64(300)},
		{"id": float64(2), "date": "2026-10-16", "status": "open", "amount": float64(100)},
		{"id": float64(3), "date": "2026-10-16", "status": "open", "amount": float64(200)},
		{"id": float64(4), "date": "2026-10-16", "status": "closed"},
	}

	t.Run("EqualityAndOrder", func(t *testing.T) {
		q := Query{OrderBy: "amount", Desc: true}.Where("date", "2026-10-16").Where("status", "open")
		got := q.Apply(docs)
		if assert.Len(t, got, 2) {
			assert.Equal(t, float64(3), got[0]["id"])
			assert.Equal(t, float64(2), got[1]["id"])
		}
	})

	t.Run("RangeSkipsMissingField", func(t *testing.T) {
		got := Query{}.WhereOp("amount", OpGt, 150).Apply(docs)
		assert.Len(t, got, 2)
	})

	t.Run("IntegerFilterAgainstDecodedNumbers", func(t *testing.T) {
		got := Query{}.Where("id", int64(4)).Apply(docs)
		assert.Len(t, got, 1)
	})

	t.Run("Limit", func(t *testing.T) {
		got := Query{OrderBy: "id", Limit: 1}.Apply(docs)
		if assert.Len(t, got, 1) {
			assert.Equal(t, float64(1), got[0]["id"])
		}
	})
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, IsTemporary(-1))
	assert.False(t, IsTemporary(0))
	assert.False(t, IsTemporary(42))
}
