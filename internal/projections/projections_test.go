package projections

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

func TestListPostsFiltersAndOrdersByCreationDatetimeDescending(t *testing.T) {
	st := store.New()
	r := New(st)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Posts().Insert(types.Post{ItemHash: "p1", Owner: "a", Type: "chat", CreationDatetime: base}))
	require.NoError(t, st.Posts().Insert(types.Post{ItemHash: "p2", Owner: "a", Type: "chat", CreationDatetime: base.Add(time.Hour)}))
	require.NoError(t, st.Posts().Insert(types.Post{ItemHash: "p3", Owner: "b", Type: "chat", CreationDatetime: base.Add(2 * time.Hour)}))

	posts := r.ListPosts(PostFilter{Owner: "a"})
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ItemHash, "newest should come first")
	assert.Equal(t, "p1", posts[1].ItemHash)
}

func TestListPostsAppliesPagination(t *testing.T) {
	st := store.New()
	r := New(st)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.Posts().Insert(types.Post{
			ItemHash: string(rune('a' + i)), CreationDatetime: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	posts := r.ListPosts(PostFilter{Offset: 1, Limit: 2})
	require.Len(t, posts, 2)
	assert.Equal(t, string(rune('a'+3)), posts[0].ItemHash)
	assert.Equal(t, string(rune('a'+2)), posts[1].ItemHash)
}

func TestAmendChainReturnsLatestAmendAndHistory(t *testing.T) {
	st := store.New()
	r := New(st)

	require.NoError(t, st.Posts().Insert(types.Post{ItemHash: "orig", LatestAmend: "amend-2"}))
	require.NoError(t, st.Posts().Insert(types.Post{ItemHash: "amend-2", Amends: "orig"}))
	require.NoError(t, st.Posts().SetLatestAmend("orig", "amend-2"))

	latest, amends := r.AmendChain("orig")
	assert.Equal(t, "amend-2", latest)
	assert.NotNil(t, amends)
}

func TestAmendChainReturnsEmptyForUnknownOriginal(t *testing.T) {
	st := store.New()
	r := New(st)

	latest, amends := r.AmendChain("nope")
	assert.Equal(t, "", latest)
	assert.Nil(t, amends)
}

func TestSortByTxTimeOrdersByEarliestConfirmation(t *testing.T) {
	st := store.New()
	r := New(st)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Messages().UpsertChainTx(types.ChainTx{Hash: "tx-late", Datetime: base.Add(2 * time.Hour)}))
	require.NoError(t, st.Messages().UpsertChainTx(types.ChainTx{Hash: "tx-early", Datetime: base}))
	require.NoError(t, st.Messages().AddConfirmation("h1", "tx-late"))
	require.NoError(t, st.Messages().AddConfirmation("h2", "tx-early"))

	ascending := r.SortByTxTime([]string{"h1", "h2"}, false)
	assert.Equal(t, []string{"h2", "h1"}, ascending)

	descending := r.SortByTxTime([]string{"h1", "h2"}, true)
	assert.Equal(t, []string{"h1", "h2"}, descending)
}

func TestSortByTxTimePlacesUnconfirmedHashesPerDirection(t *testing.T) {
	st := store.New()
	r := New(st)

	require.NoError(t, st.Messages().UpsertChainTx(types.ChainTx{Hash: "tx-1", Datetime: time.Now().UTC()}))
	require.NoError(t, st.Messages().AddConfirmation("confirmed", "tx-1"))

	ascending := r.SortByTxTime([]string{"unconfirmed", "confirmed"}, false)
	assert.Equal(t, []string{"confirmed", "unconfirmed"}, ascending, "nulls last when ascending")

	descending := r.SortByTxTime([]string{"unconfirmed", "confirmed"}, true)
	assert.Equal(t, []string{"unconfirmed", "confirmed"}, descending, "nulls first when descending")
}
