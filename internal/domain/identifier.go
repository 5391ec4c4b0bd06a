package domain

import (
	"strconv"
	"strings"

	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

// offerIDSeparator joins the package id and the location id into the
// compound offer id the supplier hands out (<packageID>_<locationID>).
const offerIDSeparator = "_"

// PackageID derives the bare package id from a compound offer id by taking
// the substring before the first separator. The bare form is what the
// cancellation-policy lookup requires; passing the full compound id there is
// always a bug. An offer id without the separator is rejected rather than
// passed through, so non-conforming ids from upstream surface immediately.
func PackageID(offerID string) (string, error) {
	idx := strings.Index(offerID, offerIDSeparator)
	if idx <= 0 {
		return "", apperrors.MalformedIdentifier(offerID)
	}
	return offerID[:idx], nil
}

// HotelID is the canonical hotel identifier. The supplier hands it out as a
// string; some downstream operations require the numeric representation.
// Both views come from this one canonical value instead of ad hoc casting at
// call sites.
type HotelID string

// String returns the string representation.
func (id HotelID) String() string {
	return string(id)
}

// Int64 returns the numeric representation, failing if the id is not numeric.
func (id HotelID) Int64() (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, apperrors.InvalidIdentifierFormat(string(id))
	}
	return n, nil
}
