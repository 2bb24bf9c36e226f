package nft

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var testNow = time.UnixMilli(1_736_000_000_000)

func TestMergeIntoEmptyRecord(t *testing.T) {
	merged, changed := Merge(Empty(), Fields{Name: "X"}, testNow)

	require.True(t, changed)
	want := Record{State: StateCollecting, Name: "X", LastUpdated: testNow.UnixMilli()}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Fatalf("unexpected merge result (-want +got):\n%s", diff)
	}
}

func TestMergeFirstWriteWins(t *testing.T) {
	cases := []struct {
		name      string
		cached    Record
		extracted Fields
		want      Record
		changed   bool
	}{
		{
			name:      "keeps existing name",
			cached:    Record{State: StateCollecting, Name: "Maserati", LastUpdated: 1},
			extracted: Fields{Name: "Ferrari"},
			want:      Record{State: StateCollecting, Name: "Maserati", LastUpdated: 1},
		},
		{
			name:      "fills only missing fields",
			cached:    Record{State: StateCollecting, Name: "Maserati", LastUpdated: 1},
			extracted: Fields{Name: "Ferrari", Description: "A grand tourer"},
			want:      Record{State: StateCollecting, Name: "Maserati", Description: "A grand tourer", LastUpdated: testNow.UnixMilli()},
			changed:   true,
		},
		{
			name:      "empty extraction never clears",
			cached:    Record{State: StateCollecting, Name: "Maserati", Recipient: "vitalik.eth", LastUpdated: 1},
			extracted: Fields{},
			want:      Record{State: StateCollecting, Name: "Maserati", Recipient: "vitalik.eth", LastUpdated: 1},
		},
		{
			name:      "whitespace values are ignored",
			cached:    Empty(),
			extracted: Fields{Name: "   ", Recipient: " 0x20c6F9006d563240031A1388f4f25726029a6368 "},
			want:      Record{State: StateCollecting, Recipient: "0x20c6F9006d563240031A1388f4f25726029a6368", LastUpdated: testNow.UnixMilli()},
			changed:   true,
		},
		{
			name:      "minted record is left alone",
			cached:    Record{State: StateMinted, TxHash: "0xabc", LastUpdated: 1},
			extracted: Fields{Name: "New"},
			want:      Record{State: StateMinted, TxHash: "0xabc", LastUpdated: 1},
		},
		{
			name:      "zero state is treated as collecting",
			cached:    Record{},
			extracted: Fields{Description: "shoes"},
			want:      Record{State: StateCollecting, Description: "shoes", LastUpdated: testNow.UnixMilli()},
			changed:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := Merge(tc.cached, tc.extracted, testNow)
			require.Equal(t, tc.changed, changed)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
			for _, f := range RequiredFields {
				if before := tc.cached.Value(f); before != "" {
					require.Equal(t, before, got.Value(f), "field %s was overwritten", f)
				}
			}
		})
	}
}

func TestIsComplete(t *testing.T) {
	full := Record{State: StateCollecting, Name: "n", Description: "d", Recipient: "r"}
	require.True(t, IsComplete(full))

	for _, f := range RequiredFields {
		partial := full
		partial.set(f, "")
		require.False(t, IsComplete(partial), "missing %s", f)
	}
	require.False(t, IsComplete(Empty()))
	require.False(t, IsComplete(Record{State: StateCollecting, Name: "n"}))
	require.False(t, IsComplete(Record{State: StateCollecting, Name: "n", Description: "d"}))
	require.False(t, IsComplete(Minted("0x1", testNow)))
}

func TestMissingAndKnownFields(t *testing.T) {
	r := Record{State: StateCollecting, Description: "d"}
	require.Equal(t, []Field{FieldName, FieldRecipient}, MissingFields(r))
	require.Equal(t, []Field{FieldDescription}, KnownFields(r))
	require.Empty(t, MissingFields(Minted("0x1", testNow)))
}

func TestCacheKeyAndTitle(t *testing.T) {
	require.Equal(t, "Minty/user-1/data", CacheKey("Minty", "user-1"))
	require.Equal(t, "Recipient", FieldRecipient.Title())
}

func TestFieldsIsZero(t *testing.T) {
	require.True(t, Fields{Name: " "}.IsZero())
	require.False(t, Fields{Recipient: "wevm.eth"}.IsZero())
}
