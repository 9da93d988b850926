package benchmark

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/hyperjump/miniblog/internal/index"
	"github.com/hyperjump/miniblog/internal/models"
	"github.com/hyperjump/miniblog/internal/search"
)

func posts(n int) ([]*models.Post, []string) {
	rows := make([]*models.Post, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		rows[i] = &models.Post{ID: int64(i), Body: fmt.Sprintf("post number %d", i)}
		ids[n-1-i] = strconv.Itoa(i)
	}
	return rows, ids
}

func BenchmarkReorder(b *testing.B) {
	rows, ids := posts(100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = search.Reorder(rows, ids)
	}
}

func BenchmarkReconcilerSearch(b *testing.B) {
	ctx := context.Background()
	client := index.NewMemoryClient()
	defer client.Close()
	rows, _ := posts(1000)
	byID := make(map[string]*models.Post, len(rows))
	for _, p := range rows {
		byID[p.SearchID()] = p
		if err := client.Add(ctx, models.PostCollection, p.SearchID(), p.SearchValues()); err != nil {
			b.Fatal(err)
		}
	}
	load := func(_ context.Context, ids []string) ([]*models.Post, error) {
		out := make([]*models.Post, 0, len(ids))
		for _, id := range ids {
			if p, ok := byID[id]; ok {
				out = append(out, p)
			}
		}
		return out, nil
	}
	r := search.NewReconciler[*models.Post](client, models.PostCollection, load)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Search(ctx, "number", 1, 25)
	}
}
