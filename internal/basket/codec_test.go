package basket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/angelmondragon/storefront/internal/storage"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWritesWireFormat(t *testing.T) {
	b := &Basket{ID: "b-1", Items: []Item{{
		ID:           7,
		Name:         "Boots",
		Description:  "Leather",
		Price:        decimal.RequireFromString("149.90"),
		PictureURL:   "/images/boots.png",
		ProductBrand: "Acme",
		ProductType:  "Shoes",
		Quantity:     2,
	}}}

	data, err := Encode(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"b-1","items":[{"id":7,"name":"Boots","description":"Leather","price":149.9,
		"pictureUrl":"/images/boots.png","productBrand":"Acme","productType":"Shoes","quantity":2}]}`, string(data))

	empty, err := Encode(&Basket{ID: "b-2"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"b-2","items":[]}`, string(empty))
}

func TestDecodeAcceptsIntegerPrices(t *testing.T) {
	b, err := Decode([]byte(`{"id":"b","items":[{"id":1,"name":"Mug","price":1500,"quantity":3}]}`))
	require.NoError(t, err)
	require.Len(t, b.Items, 1)
	assert.True(t, b.Items[0].Price.Equal(decimal.NewFromInt(1500)))
}

func TestDecodeRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"item id zero":      `{"id":"b","items":[{"id":0,"price":1,"quantity":1}]}`,
		"price missing":     `{"id":"b","items":[{"id":1,"quantity":1}]}`,
		"price exponent":    `{"id":"b","items":[{"id":1,"price":1e3,"quantity":1}]}`,
		"quantity negative": `{"id":"b","items":[{"id":1,"price":1,"quantity":-1}]}`,
		"wrong type":        `{"id":"b","items":"nope"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSerialization), "got %v", err)
		})
	}
}

func TestTotalsToDocument(t *testing.T) {
	doc := TotalsToDocument(Totals{
		Shipping: decimal.NewFromInt(200),
		SubTotal: decimal.RequireFromString("35.5"),
		Total:    decimal.RequireFromString("235.5"),
	})
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"shipping":200,"subTotal":35.5,"total":235.5}`, string(data))
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	repo := NewRepository(kv, "shop")

	b := &Basket{ID: "b-1", Items: []Item{
		{ID: 1, Name: "a", Price: decimal.RequireFromString("10.25"), Quantity: 1},
		{ID: 2, Name: "b", Price: decimal.NewFromInt(3), Quantity: 4},
	}}
	require.NoError(t, repo.Save(ctx, b))

	raw, ok, err := kv.Get(ctx, "shop:basket_id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b-1", raw)

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, loaded)

	assert.True(t, pkgerrors.HasCode(repo.Save(ctx, &Basket{ID: "b-1"}), pkgerrors.CodeValidation))

	require.NoError(t, repo.Clear(ctx))
	loaded, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
	_, ok, err = repo.LoadID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryMalformedContent(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	repo := NewRepository(kv, "shop")
	require.NoError(t, kv.SetMany(ctx, map[string]string{"shop:basket": "[]"}))

	_, err := repo.Load(ctx)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSerialization))
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	locks := newKeyedMutex()
	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	assert.Equal(t, 2, locks.size())

	unlockA()
	unlockB()
	assert.Zero(t, locks.size())
}
