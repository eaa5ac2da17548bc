package httpapi

import (
	"context"

	"github.com/denisok6893-rgb/open-house/internal/domain"
	"github.com/denisok6893-rgb/open-house/internal/storage"
)

// Repository is what the service needs from persistence.
type Repository interface {
	CreateUser(ctx context.Context, email, passwordHash string) (int64, error)
	UserByEmail(ctx context.Context, email string) (storage.User, bool, error)
	CreateHouse(ctx context.Context, userID int64, name, address string) (domain.HouseSummary, error)
	ListHouses(ctx context.Context, userID int64) ([]domain.HouseSummary, error)
	HouseOwner(ctx context.Context, hid int64) (int64, bool, error)
	ListCriteria(ctx context.Context, hid int64) ([]domain.Criterion, error)
	GetCriterion(ctx context.Context, hid, id int64) (domain.Criterion, bool, error)
	SetCriterionValue(ctx context.Context, hid, id int64, value float64) (bool, error)
	UpsertCriteria(ctx context.Context, hid int64, items []domain.Criterion) error
	DeleteCriterion(ctx context.Context, hid, id int64) (bool, error)
	SetDreamHouse(ctx context.Context, userID int64, items []domain.Criterion) error
	DreamHouse(ctx context.Context, userID int64) ([]domain.Criterion, error)
}

var _ Repository = (*storage.SQLiteStore)(nil)

// criteriaSnapshot groups a flat criteria list by category for scoring.
type criteriaSnapshot []domain.Criterion

func (cs criteriaSnapshot) Snapshot() map[domain.Category][]domain.Criterion {
	out := make(map[domain.Category][]domain.Criterion, len(domain.Categories()))
	for _, cat := range domain.Categories() {
		out[cat] = nil
	}
	for _, c := range cs {
		if c.Category.Valid() {
			out[c.Category] = append(out[c.Category], c)
		}
	}
	return out
}
