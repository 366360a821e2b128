package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := IDToBytes(uuid.NewString())
	now := time.Now()

	cases := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"valid start", Event{JobID: id, TS: now, Stage: StageJobStart}, false},
		{"valid retry", Event{JobID: id, TS: now, Stage: StageJobRetry, Kind: "rate_limited"}, false},
		{"retry without kind", Event{JobID: id, TS: now, Stage: StageJobRetry}, true},
		{"error without kind", Event{JobID: id, TS: now, Stage: StageJobError}, true},
		{"zero job id", Event{TS: now, Stage: StageJobStart}, true},
		{"zero timestamp", Event{JobID: id, Stage: StageJobStart}, true},
		{"unknown stage", Event{JobID: id, TS: now, Stage: Stage("BOGUS")}, true},
		{"negative duration", Event{JobID: id, TS: now, Stage: StageJobDone, Dur: -time.Second}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIDToBytesRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{JobID: IDToBytes(id.String())}
	require.Equal(t, id, evt.JobUUID())

	require.Equal(t, [16]byte{}, IDToBytes("not-a-uuid"))
}
