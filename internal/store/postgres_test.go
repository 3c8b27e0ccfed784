package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/model"
)

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  time.Time
		fails bool
	}{
		{
			name: "redundant Z after UTC offset is stripped",
			in:   "2025-07-02T13:57:51+00:00Z",
			want: time.Date(2025, 7, 2, 13, 57, 51, 0, time.UTC),
		},
		{
			name: "redundant Z after negative zero offset is stripped",
			in:   "2025-07-02T13:57:51.123456-00:00Z",
			want: time.Date(2025, 7, 2, 13, 57, 51, 123456000, time.UTC),
		},
		{
			name: "plain zulu timestamp passes through",
			in:   "2025-07-02T13:57:51Z",
			want: time.Date(2025, 7, 2, 13, 57, 51, 0, time.UTC),
		},
		{
			name: "non-utc offset is preserved",
			in:   "2025-07-02T13:57:51+02:00",
			want: time.Date(2025, 7, 2, 13, 57, 51, 0, time.FixedZone("", 2*60*60)),
		},
		{
			name:  "garbage is rejected",
			in:    "not-a-timestamp",
			fails: true,
		},
		{
			name:  "space separator is rejected",
			in:    "2025-07-02 13:57:51",
			fails: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeTimestamp(tt.in)
			if tt.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestClientIPForDB(t *testing.T) {
	assert.Nil(t, clientIPForDB("N/A"))
	assert.Nil(t, clientIPForDB(""))
	assert.Equal(t, "10.1.2.3", clientIPForDB("10.1.2.3"))
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pq.Error{Code: uniqueViolation}
	assert.True(t, isUniqueViolation(dup))
	assert.True(t, isUniqueViolation(fmt.Errorf("exec insert: %w", dup)))

	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("connection reset")))
	assert.False(t, isUniqueViolation(nil))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", OutcomeInserted.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestInsertAlertRejectsUnparseableTimestamp(t *testing.T) {
	s := &PostgresStore{logger: zap.NewNop()}
	alert := &model.SecurityAlert{
		AlertID:   "0c6a1c9e-9214-4d79-92f5-3a8bdbd4a1ba",
		Timestamp: "yesterday-ish",
	}

	_, err := s.InsertAlert(context.Background(), alert)
	require.Error(t, err)
	assert.True(t, errs.IsMalformed(err),
		"an unparseable timestamp can never succeed on redelivery")
	assert.False(t, errs.IsTransient(err))
}
