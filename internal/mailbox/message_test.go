package mailbox

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortAndCap_DescendingStable(t *testing.T) {
	in := []UnreadMessage{
		{ID: "a", SortKey: 10},
		{ID: "b", SortKey: 30},
		{ID: "c", SortKey: 10},
		{ID: "d", SortKey: 20},
		{ID: "e", SortKey: 10},
	}

	out := SortAndCap(in, MaxRecords)

	assert.Equal(t, []string{"b", "d", "a", "c", "e"}, IDs(out))
	// input untouched
	assert.Equal(t, "a", in[0].ID)
}

func TestSortAndCap_Cap(t *testing.T) {
	var in []UnreadMessage
	for i := 0; i < 50; i++ {
		in = append(in, UnreadMessage{ID: fmt.Sprintf("m%d", i), SortKey: int64(i)})
	}

	out := SortAndCap(in, MaxRecords)

	assert.Len(t, out, MaxRecords)
	assert.Equal(t, "m49", out[0].ID)
	assert.Equal(t, "m30", out[MaxRecords-1].ID)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].SortKey, out[i].SortKey)
	}
}

func TestSortAndCap_DropsDuplicateIDs(t *testing.T) {
	in := []UnreadMessage{{ID: "x", SortKey: 1, Subject: "first"}, {ID: "x", SortKey: 5, Subject: "second"}}

	out := SortAndCap(in, 0)

	assert.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Subject)
}

func TestSyntheticID(t *testing.T) {
	a := SyntheticID("Alice", "Hello", "Oct 3")
	b := SyntheticID("Alice", "Hello", "Oct 3")
	c := SyntheticID("Alice", "Hello", "Oct 4")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, IsSyntheticID(a))
	assert.False(t, IsSyntheticID("18c2f0a9b1d2e3f4"))
}

func TestOpenTargetAndWebURL(t *testing.T) {
	assert.Equal(t, "t1", UnreadMessage{ID: "m1", ThreadID: "t1"}.OpenTarget())
	assert.Equal(t, "m1", UnreadMessage{ID: "m1"}.OpenTarget())
	assert.Equal(t, "https://mail.google.com/mail/u/0/#inbox/t1", WebURL("", "t1"))
	assert.Equal(t, "https://mail.google.com/mail/u/1/#inbox/t1", WebURL("https://mail.google.com/mail/u/1", "t1"))
}
