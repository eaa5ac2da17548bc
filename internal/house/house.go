// Package house holds the House aggregate and the user's dream house template.
package house

import (
	"sync"

	"github.com/google/uuid"

	"github.com/denisok6893-rgb/open-house/internal/criteria"
	"github.com/denisok6893-rgb/open-house/internal/domain"
	"github.com/denisok6893-rgb/open-house/internal/matching"
)

// House is one candidate property. Key identifies it locally; HID is the
// service id and stays 0 until the service knows the house.
type House struct {
	Key      string
	Name     string
	Address  string
	Criteria *criteria.Store

	mu     sync.RWMutex
	hid    int64
	ratios map[domain.Category]float64
	rank   float64
}

func New(name, address string) *House {
	return &House{
		Key:      uuid.NewString(),
		Name:     name,
		Address:  address,
		Criteria: criteria.NewStore(),
		ratios:   make(map[domain.Category]float64),
	}
}

// FromSummary builds a house known to the service.
func FromSummary(s domain.HouseSummary) *House {
	h := New(s.Name, s.Address)
	h.hid = s.HID
	return h
}

func (h *House) HID() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hid
}

func (h *House) SetHID(hid int64) {
	h.mu.Lock()
	h.hid = hid
	h.mu.Unlock()
}

// CalculateRank refreshes the cached ratios and rank from the current criteria.
func (h *House) CalculateRank(e *matching.Engine) float64 {
	res := e.Score(h.Criteria)
	h.mu.Lock()
	h.ratios = res.Ratios
	h.rank = res.Rank
	h.mu.Unlock()
	return res.Rank
}

func (h *House) Rank() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rank
}

// MatchingRatio returns the ratio of each category keyed by chart axis.
func (h *House) MatchingRatio() map[int]float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[int]float64, len(h.ratios))
	for c, v := range h.ratios {
		out[c.Index()] = v
	}
	return out
}

func (h *House) Summary() domain.HouseSummary {
	return domain.HouseSummary{HID: h.HID(), Name: h.Name, Address: h.Address}
}
