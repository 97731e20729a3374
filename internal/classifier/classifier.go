package classifier

import (
	"context"
	"fmt"

	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/reconcile"
)

// Classifier maps pending records to categories and sentiments.
type Classifier interface {
	Classify(ctx context.Context, items []models.PendingItem, categories []string) (map[int]models.Classification, error)
}

// Board is the engine surface a classification pass needs.
type Board interface {
	Pending() []models.PendingItem
	Categories() []string
	ApplyClassification(ctx context.Context, results map[int]models.Classification) (reconcile.ClassifyResult, error)
}

// ClassifyBoard classifies every record on b and applies the result. An
// empty board is left alone.
func ClassifyBoard(ctx context.Context, c Classifier, b Board) (reconcile.ClassifyResult, error) {
	items := b.Pending()
	if len(items) == 0 {
		return reconcile.ClassifyResult{}, nil
	}
	results, err := c.Classify(ctx, items, b.Categories())
	if err != nil {
		return reconcile.ClassifyResult{}, err
	}
	res, err := b.ApplyClassification(ctx, results)
	if err != nil {
		return reconcile.ClassifyResult{}, fmt.Errorf("classifier: apply: %w", err)
	}
	return res, nil
}
