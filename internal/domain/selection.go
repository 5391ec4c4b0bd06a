package domain

import (
	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

// Selection is the result of picking one candidate from a result list.
// Fallback reports that no candidate met the preferred filter and the first
// unfiltered element was taken instead.
type Selection[T any] struct {
	Value    T
	Fallback bool
}

// selectPreferred takes the first element satisfying prefer, in the list's
// existing order; if none does, it falls back to the first element overall.
// Result lists arrive pre-sorted by the requested sort key, so order is
// never changed here.
func selectPreferred[T any](list []T, prefer func(T) bool) Selection[T] {
	for _, v := range list {
		if prefer(v) {
			return Selection[T]{Value: v}
		}
	}
	return Selection[T]{Value: list[0], Fallback: true}
}

// SelectHotel picks a hotel from a completed search result set, preferring
// candidates priced at or under the ceiling. A ceiling of 0 disables the
// price filter.
func SelectHotel(list []HotelCandidate, priceCeiling float64) (Selection[HotelCandidate], error) {
	if len(list) == 0 {
		return Selection[HotelCandidate]{}, apperrors.NoCandidates("hotel")
	}
	if priceCeiling <= 0 {
		return Selection[HotelCandidate]{Value: list[0]}, nil
	}
	return selectPreferred(list, func(h HotelCandidate) bool {
		return h.Price <= priceCeiling
	}), nil
}

// SelectOffer picks a room offer, preferring refundable ones.
func SelectOffer(list []RoomOffer) (Selection[RoomOffer], error) {
	if len(list) == 0 {
		return Selection[RoomOffer]{}, apperrors.NoCandidates("room offer")
	}
	return selectPreferred(list, func(o RoomOffer) bool {
		return o.Refundable
	}), nil
}
