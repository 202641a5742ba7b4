package fts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/registry/internal/fts"
	"github.com/orneryd/registry/internal/model"
)

func feature(id, name, qname string) *model.Entity {
	return &model.Entity{ID: id, Kind: model.KindAnchorFeature, Name: name, QualifiedName: qname}
}

func TestSearch_UnderscoreMatchesSpacedQuery(t *testing.T) {
	idx := fts.New()
	idx.Add(feature("f1", "user_total_purchase", "P.A.user_total_purchase"))
	idx.Add(feature("f2", "merchant_category", "P.A.merchant_category"))

	results := idx.Search("user purchase", "", 10)
	assert.NotEmpty(t, results)
	assert.Equal(t, "f1", results[0].ID)
}

func TestSearch_KindFilter(t *testing.T) {
	idx := fts.New()
	idx.Add(feature("f1", "amount", "P.A.amount"))
	proj := &model.Entity{ID: "p1", Kind: model.KindProject, Name: "amount", QualifiedName: "amount"}
	idx.Add(proj)

	results := idx.Search("amount", model.KindProject, 10)
	assert.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)
}

func TestSearch_TiesBreakByQualifiedName(t *testing.T) {
	idx := fts.New()
	idx.Add(feature("f1", "total", "P.B.total"))
	idx.Add(feature("f2", "total", "P.A.total"))

	results := idx.Search("total", "", 10)
	assert.Len(t, results, 2)
	assert.Equal(t, "f2", results[0].ID) // P.A.total < P.B.total
}

func TestRemove_DropsFromIndex(t *testing.T) {
	idx := fts.New()
	idx.Add(feature("f1", "total", "P.A.total"))
	idx.Remove("f1")
	assert.Equal(t, 0, idx.Count())
	assert.Empty(t, idx.Search("total", "", 10))
}
