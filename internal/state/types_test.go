package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/statusboard/internal/record"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{999 * time.Millisecond, "00:00:00"},
		{5 * time.Second, "00:00:05"},
		{time.Hour + 2*time.Minute + 3*time.Second + 999*time.Millisecond, "01:02:03"},
		{-3 * time.Second, "00:00:00"},
		{100 * time.Hour, "100:00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), tt.in.String())
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 10, 8, 30, 15, 123_000_000, time.UTC)
	s := FormatTime(ts)
	assert.Equal(t, "2024-05-10T08:30:15.123Z", s)
	assert.True(t, ts.Equal(ParseTime(s)))

	assert.Equal(t, "", FormatTime(time.Time{}))
	assert.True(t, ParseTime("").IsZero())
	assert.True(t, ParseTime("yesterday").IsZero())
}

func TestActive_JSONIsFlattened(t *testing.T) {
	a := Active{
		Record:    record.Of("id", "1", "NOMBRE Y APELLIDO", "PEREZ"),
		StartedAt: time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC),
	}
	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","NOMBRE Y APELLIDO":"PEREZ","startedAt":"2024-05-10T08:00:00.000Z"}`, string(out))

	var back Active
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, a.StartedAt.Equal(back.StartedAt))
	assert.Equal(t, []string{"id", "NOMBRE Y APELLIDO"}, back.Record.Keys())
}

func TestHistoryEntry_JSONIsFlattened(t *testing.T) {
	h := HistoryEntry{
		HistoryID: "h1",
		Record:    record.Of("id", "1", "OS", "PAMI"),
		StartedAt: time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC),
		EndedAt:   time.Date(2024, 5, 10, 8, 45, 10, 0, time.UTC),
		Duration:  "00:45:10",
	}
	out, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t,
		`{"id":"1","OS":"PAMI","startedAt":"2024-05-10T08:00:00.000Z","historyId":"h1","endedAt":"2024-05-10T08:45:10.000Z","duration":"00:45:10"}`,
		string(out))

	var back HistoryEntry
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "h1", back.HistoryID)
	assert.Equal(t, "00:45:10", back.Duration)
	assert.True(t, h.EndedAt.Equal(back.EndedAt))
	assert.Equal(t, []string{"id", "OS"}, back.Record.Keys())
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	s := Snapshot{
		Roster:  []record.Record{record.Of("id", "1")},
		Active:  &Active{Record: record.Of("id", "1")},
		History: []HistoryEntry{{HistoryID: "h", Record: record.Of("id", "2")}},
	}
	c := s.Clone()
	c.Roster[0].Set("x", "y")
	c.Active.Record.Set("x", "y")
	c.History[0].Record.Set("x", "y")

	assert.False(t, s.Roster[0].Has("x"))
	assert.False(t, s.Active.Record.Has("x"))
	assert.False(t, s.History[0].Record.Has("x"))
}

func TestChange(t *testing.T) {
	c := ChangeActive | ChangeRoster
	assert.True(t, c.Has(ChangeActive))
	assert.False(t, c.Has(ChangeHistory))
	assert.False(t, c.Has(ChangeAll))
	assert.Equal(t, "active+roster", c.String())
	assert.Equal(t, "none", Change(0).String())
}
