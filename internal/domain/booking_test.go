package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

func ptrFloat(f float64) *float64 { return &f }

func TestValidateLocation(t *testing.T) {
	tests := []struct {
		name    string
		session SearchSession
		wantErr bool
	}{
		{"region only", SearchSession{RegionID: "r-1"}, false},
		{"coordinates only", SearchSession{Latitude: ptrFloat(-8.4), Longitude: ptrFloat(115.1)}, false},
		{"both set", SearchSession{RegionID: "r-1", Latitude: ptrFloat(-8.4), Longitude: ptrFloat(115.1)}, true},
		{"neither set", SearchSession{}, true},
		{"latitude without longitude", SearchSession{Latitude: ptrFloat(-8.4)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.ValidateLocation()
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrAmbiguousLocation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAdoptSearchKey(t *testing.T) {
	s := SearchSession{SearchKey: "key-1"}

	s.AdoptSearchKey("key-2")
	assert.Equal(t, "key-2", s.SearchKey, "fresher key overwrites")

	s.AdoptSearchKey("")
	assert.Equal(t, "key-2", s.SearchKey, "empty key is ignored")
}

func TestSessionIsExpired(t *testing.T) {
	s := SearchSession{ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	assert.True(t, s.IsExpired())

	s.ExpiresAt = time.Now().UTC().Add(time.Minute)
	assert.False(t, s.IsExpired())

	s.ExpiresAt = time.Time{}
	assert.False(t, s.IsExpired(), "zero expiry means no window enforced")
}

func TestValidateGuestCounts(t *testing.T) {
	rooms := []RoomRequest{{Adults: 2, ChildAges: []int{5}}}

	t.Run("matching counts", func(t *testing.T) {
		guests := []RoomGuests{{
			Adults:   []Guest{{FirstName: "Ana", LastName: "Petrova"}, {FirstName: "Ivan", LastName: "Petrov"}},
			Children: []Guest{{FirstName: "Mila", LastName: "Petrova", Age: 5}},
		}}
		require.NoError(t, ValidateGuestCounts(rooms, guests))
	})

	t.Run("too few adults", func(t *testing.T) {
		guests := []RoomGuests{{
			Adults:   []Guest{{FirstName: "Ana", LastName: "Petrova"}},
			Children: []Guest{{FirstName: "Mila", LastName: "Petrova", Age: 5}},
		}}
		err := ValidateGuestCounts(rooms, guests)
		assert.ErrorIs(t, err, apperrors.ErrGuestCountMismatch)
	})

	t.Run("too many adults", func(t *testing.T) {
		guests := []RoomGuests{{
			Adults: []Guest{
				{FirstName: "Ana", LastName: "Petrova"},
				{FirstName: "Ivan", LastName: "Petrov"},
				{FirstName: "Petar", LastName: "Petrov"},
			},
			Children: []Guest{{FirstName: "Mila", LastName: "Petrova", Age: 5}},
		}}
		err := ValidateGuestCounts(rooms, guests)
		assert.ErrorIs(t, err, apperrors.ErrGuestCountMismatch)
	})

	t.Run("missing child record", func(t *testing.T) {
		guests := []RoomGuests{{
			Adults: []Guest{{FirstName: "Ana", LastName: "Petrova"}, {FirstName: "Ivan", LastName: "Petrov"}},
		}}
		err := ValidateGuestCounts(rooms, guests)
		assert.ErrorIs(t, err, apperrors.ErrGuestCountMismatch)
	})

	t.Run("room count mismatch", func(t *testing.T) {
		err := ValidateGuestCounts(rooms, nil)
		assert.ErrorIs(t, err, apperrors.ErrGuestCountMismatch)
	})
}

func TestFreeCancellationUntil(t *testing.T) {
	boundary := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	policy := CancellationPolicy{
		PackageID:  "p-1",
		Refundable: true,
		FeeSchedule: []CancellationFee{
			{From: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), Amount: 0},
			{From: boundary, Amount: 50},
			{From: time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC), Amount: 200},
		},
	}

	assert.Equal(t, boundary, policy.FreeCancellationUntil())

	nonRefundable := CancellationPolicy{
		FeeSchedule: []CancellationFee{},
	}
	assert.True(t, nonRefundable.FreeCancellationUntil().IsZero())
}

func TestBookingRunIsTerminal(t *testing.T) {
	for _, state := range []string{StateDone, StateCancelled, StateFailed} {
		run := BookingRun{State: state}
		assert.True(t, run.IsTerminal(), state)
	}
	for _, state := range []string{StateInit, StateSearchStarted, StateConfirmed} {
		run := BookingRun{State: state}
		assert.False(t, run.IsTerminal(), state)
	}
}
