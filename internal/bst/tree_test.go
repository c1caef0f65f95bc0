package bst

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertIsIdempotent(t *testing.T) {
	tree := New()
	assert.True(t, tree.Insert("elimin", 1))
	assert.False(t, tree.Insert("elimin", 1))
	assert.True(t, tree.Insert("elimin", 2))

	node := tree.Find("elimin")
	require.NotNil(t, node)
	assert.Equal(t, []int64{1, 2}, node.ResourceIDs)
	assert.Equal(t, 1, tree.Len())
}

func TestFindMissingStem(t *testing.T) {
	tree := New()
	assert.Nil(t, tree.Find("anything"))

	tree.Insert("matrix", 4)
	assert.Nil(t, tree.Find("pivot"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree := New()
	for _, stem := range []string{"matrix", "elimin", "pivot", "gauss", "row"} {
		tree.Insert(stem, 7)
	}
	tree.Insert("gauss", 9)

	data, err := tree.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, tree.Stems(), decoded.Stems())
	assert.Equal(t, tree.Len(), decoded.Len())
	assert.Equal(t, []int64{7, 9}, decoded.Find("gauss").ResourceIDs)
	assert.Nil(t, decoded.Find("determin"))

	again, err := decoded.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestEncodeShape(t *testing.T) {
	tree := New()
	tree.Insert("b", 1)
	tree.Insert("a", 2)

	data, err := tree.Encode()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"stem":"b","resources":[1],"left":{"stem":"a","resources":[2],"left":null,"right":null},"right":null}`,
		string(data))
}

func TestEmptyTreeEncoding(t *testing.T) {
	data, err := New().Encode()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	for _, input := range []string{"", "null", "  null  "} {
		decoded, err := Decode([]byte(input))
		require.NoError(t, err, input)
		assert.Equal(t, 0, decoded.Len())
		assert.Nil(t, decoded.Root())
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := []string{
		`[]`,
		`{"stem":1}`,
		`{"stem":"a","resources":["x"]}`,
		`{"stem":"a","left":{"stem":"b"}}`,
		`{"stem":"a"} {}`,
		`{"stem":"a"`,
	}
	for _, input := range cases {
		_, err := Decode([]byte(input))
		assert.Error(t, err, input)
	}

	_, err := Decode([]byte(`{"stem":"a","left":{"stem":"b"}}`))
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestDecodeIgnoresUnknownKeysAndDuplicateIDs(t *testing.T) {
	decoded, err := Decode([]byte(`{"stem":"a","resources":[3,3,4],"extra":{"nested":[1,2]},"left":null,"right":null}`))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, decoded.Find("a").ResourceIDs)
}

func TestJSONMarshalerIntegration(t *testing.T) {
	type envelope struct {
		Tree *Tree `json:"tree"`
	}
	tree := New()
	tree.Insert("linear", 11)

	data, err := json.Marshal(envelope{Tree: tree})
	require.NoError(t, err)

	var out envelope
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Tree)
	assert.Equal(t, []int64{11}, out.Tree.Find("linear").ResourceIDs)
}

func TestRemoveDeletesEmptyNodes(t *testing.T) {
	tree := New()
	for _, stem := range []string{"m", "f", "t", "c", "h", "p", "w"} {
		tree.Insert(stem, 1)
	}
	tree.Insert("f", 2)

	assert.True(t, tree.Remove("f", 1))
	assert.NotNil(t, tree.Find("f"), "f still carries resource 2")
	assert.True(t, tree.Remove("f", 2))
	assert.Nil(t, tree.Find("f"))

	assert.True(t, tree.Remove("m", 1))
	assert.False(t, tree.Remove("m", 1))
	assert.False(t, tree.Remove("zzz", 1))

	assert.Equal(t, []string{"c", "h", "p", "t", "w"}, tree.Stems())
	assert.Equal(t, 5, tree.Len())
}

func TestPurgeRemovesResourceEverywhere(t *testing.T) {
	tree := New()
	tree.Insert("matrix", 1)
	tree.Insert("matrix", 2)
	tree.Insert("pivot", 1)
	tree.Insert("row", 2)

	assert.Equal(t, 2, tree.Purge(1))
	assert.Equal(t, []string{"matrix", "row"}, tree.Stems())
	assert.Equal(t, []int64{2}, tree.Find("matrix").ResourceIDs)
	assert.Equal(t, 0, tree.Purge(1))
}

func TestSortedInsertsDoNotRecurse(t *testing.T) {
	tree := New()
	const n = 5000
	for i := 0; i < n; i++ {
		tree.Insert(fmt.Sprintf("stem%06d", i), int64(i))
	}
	assert.Equal(t, n, tree.Len())

	data, err := tree.Encode()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, n, decoded.Len())
	assert.Equal(t, []int64{n - 1}, decoded.Find(fmt.Sprintf("stem%06d", n-1)).ResourceIDs)
}

func TestRandomOperationsKeepOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree := New()
	want := make(map[string]map[int64]struct{})

	for i := 0; i < 5000; i++ {
		stem := fmt.Sprintf("s%d", rng.Intn(300))
		id := int64(rng.Intn(20))
		if rng.Intn(3) == 0 {
			tree.Remove(stem, id)
			if ids, ok := want[stem]; ok {
				delete(ids, id)
				if len(ids) == 0 {
					delete(want, stem)
				}
			}
			continue
		}
		tree.Insert(stem, id)
		if want[stem] == nil {
			want[stem] = make(map[int64]struct{})
		}
		want[stem][id] = struct{}{}
	}

	stems := tree.Stems()
	assert.True(t, sort.StringsAreSorted(stems))
	assert.Len(t, stems, len(want))
	assert.Equal(t, len(want), tree.Len())
	for stem, ids := range want {
		node := tree.Find(stem)
		require.NotNil(t, node, stem)
		assert.Len(t, node.ResourceIDs, len(ids), stem)
		for id := range ids {
			assert.True(t, node.Has(id), "%s/%d", stem, id)
		}
	}

	data, err := tree.Encode()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, stems, decoded.Stems())
}
