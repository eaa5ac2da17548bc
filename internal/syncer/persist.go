package syncer

import (
	"fmt"

	"github.com/denisok6893-rgb/open-house/internal/house"
	"github.com/denisok6893-rgb/open-house/internal/storage"
)

// ToLocal converts a house to its cached form.
func ToLocal(h *house.House) storage.LocalHouse {
	return storage.LocalHouse{
		Key:      h.Key,
		HID:      h.HID(),
		Name:     h.Name,
		Address:  h.Address,
		Rank:     h.Rank(),
		Criteria: h.Criteria.All(),
	}
}

// FromLocal rebuilds a house from its cached form.
func FromLocal(lh storage.LocalHouse) (*house.House, error) {
	h := house.New(lh.Name, lh.Address)
	h.Key = lh.Key
	h.SetHID(lh.HID)
	for _, c := range lh.Criteria {
		if err := h.Criteria.Add(c.Category, c); err != nil {
			return nil, fmt.Errorf("restore house %s: %w", lh.Key, err)
		}
	}
	return h, nil
}
