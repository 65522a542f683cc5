package seo

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDateRangeDaysInclusive(t *testing.T) {
	t.Parallel()

	r := DateRange{
		Start: time.Date(2026, 3, 30, 15, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 2, 1, 0, 0, 0, time.UTC),
	}
	days := r.Days()
	require.Len(t, days, 4)
	require.Equal(t, "2026-03-30", days[0].Format(DateLayout))
	require.Equal(t, "2026-04-02", days[3].Format(DateLayout))
	require.Equal(t, "2026-03-30..2026-04-02", r.String())
}

func TestDateRangeDaysEmptyWhenReversed(t *testing.T) {
	t.Parallel()

	r := DateRange{
		Start: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	require.Empty(t, r.Days())
}

func TestDeriveOutcome(t *testing.T) {
	t.Parallel()

	require.Equal(t, OutcomeSucceeded, DeriveOutcome(3, 0))
	require.Equal(t, OutcomePartial, DeriveOutcome(3, 1))
	require.Equal(t, OutcomeFailed, DeriveOutcome(0, 2))
}

func TestParseDimension(t *testing.T) {
	t.Parallel()

	for _, d := range AllDimensions {
		got, err := ParseDimension(string(d))
		require.NoError(t, err)
		require.Equal(t, d, got)
	}
	_, err := ParseDimension("browser")
	require.Error(t, err)
}

func TestSeverityTextRoundTrip(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(map[string]Severity{"s": SeverityHigh})
	require.NoError(t, err)
	require.JSONEq(t, `{"s":"high"}`, string(payload))

	var decoded map[string]Severity
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, SeverityHigh, decoded["s"])
	require.Error(t, json.Unmarshal([]byte(`{"s":"urgent"}`), &decoded))
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	authErr := fmt.Errorf("sync: %w", &AuthError{Op: "mint", Err: errors.New("bad key")})
	require.True(t, IsAuth(authErr))
	require.False(t, IsValidation(authErr))
	require.Contains(t, authErr.Error(), "auth: mint: bad key")

	valErr := Validationf("range", "end %s is in the future", "2030-01-01")
	require.True(t, IsValidation(valErr))
	require.Equal(t, "validation: range: end 2030-01-01 is in the future", valErr.Error())

	transportErr := &TransportError{URL: "https://example.test", Err: errors.New("reset")}
	require.True(t, IsTransport(transportErr))
}

func TestMetricValue(t *testing.T) {
	t.Parallel()

	row := MetricRow{Impressions: 100, Clicks: 7, Position: 4.5}
	require.InDelta(t, 100, MetricImpressions.Value(row), 0)
	require.InDelta(t, 7, MetricClicks.Value(row), 0)
	require.InDelta(t, 4.5, MetricPosition.Value(row), 0)
}
