// Package fts implements the full-text search index (F): a BM25-ranked
// inverted index over each entity's synthetic document (name, qualified
// name, display text, and labels), adapted from a single-field BM25 index
// into a multi-field one with kind filtering and a deterministic tie-break.
package fts

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/orneryd/registry/internal/model"
)

// BM25 parameters (standard values).
const (
	bm25K1 = 1.2  // term frequency saturation
	bm25B  = 0.75 // length normalization
)

// prefixPenalty scales the IDF of a prefix (non-exact) token match.
const prefixPenalty = 0.8

type document struct {
	text          string
	kind          model.Kind
	qualifiedName string
}

// Index is a BM25 full-text index over registry entities.
type Index struct {
	mu sync.RWMutex

	documents     map[string]document
	invertedIndex map[string]map[string]int // term -> docID -> term frequency
	docLengths    map[string]int
	avgDocLength  float64
	docCount      int
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		documents:     make(map[string]document),
		invertedIndex: make(map[string]map[string]int),
		docLengths:    make(map[string]int),
	}
}

// buildDocText assembles the synthetic document for e: name, qualified
// name, display text, and labels, each duplicated with underscores
// replaced by spaces so "user_id" also matches "user id".
func buildDocText(e *model.Entity) string {
	fields := []string{e.Name, e.QualifiedName, e.DisplayText()}
	fields = append(fields, e.Labels...)

	var sb strings.Builder
	for _, f := range fields {
		if f == "" {
			continue
		}
		sb.WriteString(f)
		sb.WriteByte(' ')
		if strings.Contains(f, "_") {
			sb.WriteString(strings.ReplaceAll(f, "_", " "))
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

// Add indexes or reindexes e.
func (idx *Index) Add(e *model.Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeInternal(e.ID)

	text := buildDocText(e)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return
	}

	idx.documents[e.ID] = document{text: text, kind: e.Kind, qualifiedName: e.QualifiedName}
	idx.docLengths[e.ID] = len(tokens)
	idx.docCount++

	termFreq := make(map[string]int)
	for _, tok := range tokens {
		termFreq[tok]++
	}
	for term, freq := range termFreq {
		if idx.invertedIndex[term] == nil {
			idx.invertedIndex[term] = make(map[string]int)
		}
		idx.invertedIndex[term][e.ID] = freq
	}
	idx.updateAvgDocLength()
}

// Remove deletes id from the index.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeInternal(id)
}

func (idx *Index) removeInternal(id string) {
	doc, exists := idx.documents[id]
	if !exists {
		return
	}
	termFreq := make(map[string]int)
	for _, tok := range tokenize(doc.text) {
		termFreq[tok]++
	}
	for term := range termFreq {
		if docs, ok := idx.invertedIndex[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.invertedIndex, term)
			}
		}
	}
	delete(idx.documents, id)
	delete(idx.docLengths, id)
	idx.docCount--
	idx.updateAvgDocLength()
}

// Result is one ranked search hit.
type Result struct {
	ID    string
	Score float64
}

// Search runs a BM25 query, optionally restricted to kindFilter, returning
// at most limit results ordered by descending score with ties broken by
// ascending qualified-name.
func (idx *Index) Search(query string, kindFilter model.Kind, limit int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 {
		return nil
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	accumulate := func(docID string, termFreq int, idf float64) {
		docLen := float64(idx.docLengths[docID])
		tf := float64(termFreq)
		numerator := tf * (bm25K1 + 1)
		denominator := tf + bm25K1*(1-bm25B+bm25B*(docLen/idx.avgDocLength))
		scores[docID] += idf * (numerator / denominator)
	}

	for _, term := range queryTerms {
		if docs, ok := idx.invertedIndex[term]; ok {
			idf := idx.calculateIDF(term)
			for docID, tf := range docs {
				accumulate(docID, tf, idf)
			}
		}
		for indexedTerm, docs := range idx.invertedIndex {
			if indexedTerm == term || !strings.HasPrefix(indexedTerm, term) {
				continue
			}
			idf := idx.calculateIDF(indexedTerm) * prefixPenalty
			for docID, tf := range docs {
				accumulate(docID, tf, idf)
			}
		}
	}

	if kindFilter != "" {
		for docID := range scores {
			if doc, ok := idx.documents[docID]; !ok || doc.kind != kindFilter {
				delete(scores, docID)
			}
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return idx.documents[results[i].ID].qualifiedName < idx.documents[results[j].ID].qualifiedName
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (idx *Index) calculateIDF(term string) float64 {
	df := float64(len(idx.invertedIndex[term]))
	n := float64(idx.docCount)
	v := math.Log(1 + (n-df+0.5)/(df+0.5))
	if v < 0 {
		return 0
	}
	return v
}

func (idx *Index) updateAvgDocLength() {
	if idx.docCount == 0 {
		idx.avgDocLength = 0
		return
	}
	var total int
	for _, l := range idx.docLengths {
		total += l
	}
	idx.avgDocLength = float64(total) / float64(idx.docCount)
}

// Count returns the number of indexed documents.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docCount
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
	var tokens []string
	for _, w := range words {
		if len(w) < 2 || isStopWord(w) {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "he": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"with": true, "this": true, "but": true, "they": true,
	"we": true, "you": true, "your": true, "my": true, "their": true,
	"been": true, "do": true, "does": true, "did": true,
}

func isStopWord(word string) bool { return stopWords[word] }
