package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLevelUnmarshalNumbersAndStrings(t *testing.T) {
	var b Book
	err := json.Unmarshal([]byte(`{"asks":[[101,1],["102.5","0.25"]],"bids":[[100]]}`), &b)
	require.NoError(t, err)

	require.Len(t, b.Asks, 2)
	assert.True(t, b.Asks[0].Price.Equal(d("101")))
	assert.True(t, b.Asks[1].Price.Equal(d("102.5")))
	assert.True(t, b.Asks[1].Size.Equal(d("0.25")))
	assert.True(t, b.Bids[0].Size.IsZero())
}

func TestLevelUnmarshalRejectsGarbage(t *testing.T) {
	var b Book
	assert.Error(t, json.Unmarshal([]byte(`{"asks":[[]],"bids":[]}`), &b))
	assert.Error(t, json.Unmarshal([]byte(`{"asks":[["abc",1]],"bids":[]}`), &b))
}

func TestBookMid(t *testing.T) {
	b := Book{
		Asks: []Level{{Price: d("101")}},
		Bids: []Level{{Price: d("100")}},
	}
	mid, ok := b.Mid()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100.5")))

	_, ok = Book{Asks: b.Asks}.Mid()
	assert.False(t, ok)
	assert.True(t, Book{Bids: b.Bids}.Empty())
}

func TestNewSnapshotCopiesLadders(t *testing.T) {
	asks := []Level{{Price: d("101")}}
	bids := []Level{{Price: d("100")}}
	s := NewSnapshot(Book{Asks: asks, Bids: bids}, Book{}, Volume{}, Spoof{}, time.Now())

	asks[0].Price = d("999")
	ask, _ := s.Book.BestAsk()
	assert.True(t, ask.Equal(d("101")))
}

func TestSideMove(t *testing.T) {
	assert.True(t, Long.Move(d("2500"), d("2501")).Equal(d("1")))
	assert.True(t, Short.Move(d("2500"), d("2501")).Equal(d("-1")))

	s, err := ParseSide(" LONG ")
	require.NoError(t, err)
	assert.Equal(t, Long, s)
	_, err = ParseSide("sideways")
	assert.Error(t, err)
}
