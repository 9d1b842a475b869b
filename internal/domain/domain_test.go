package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_UnmarshalJSON_FallbackFields(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantID    string
		wantTitle string
		wantImage string
		wantCat   string
	}{
		{
			name:      "images array wins",
			payload:   `{"_id":"p1","title":"Kanzu","price":45000,"images":["/a.jpg","/b.jpg"],"image":"/c.jpg","category":"c9"}`,
			wantID:    "p1",
			wantTitle: "Kanzu",
			wantImage: "/a.jpg",
			wantCat:   "c9",
		},
		{
			name:      "single image field",
			payload:   `{"id":"p2","name":"Gomesi","price":"60,000","image":"/g.jpg","category":{"_id":"c1","name":"Dresses"}}`,
			wantID:    "p2",
			wantTitle: "Gomesi",
			wantImage: "/g.jpg",
			wantCat:   "c1",
		},
		{
			name:      "no image at all",
			payload:   `{"id":"p3","title":"Belt","price":5000}`,
			wantID:    "p3",
			wantTitle: "Belt",
			wantImage: PlaceholderImage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Product
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &p))
			assert.Equal(t, tt.wantID, p.ID)
			assert.Equal(t, tt.wantTitle, p.Title)
			assert.Equal(t, tt.wantImage, p.Image)
			assert.Equal(t, tt.wantCat, p.CategoryID)
		})
	}
}

func TestProduct_UnmarshalJSON_StringPrice(t *testing.T) {
	var p Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":"p2","price":"60,000"}`), &p))
	assert.Equal(t, 60000.0, p.Price)

	err := json.Unmarshal([]byte(`{"id":"p2","price":"sixty"}`), &p)
	assert.Error(t, err)
}

func TestCategory_UnmarshalJSON(t *testing.T) {
	var c Category
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"c1","name":"Shoes"}`), &c))
	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, PlaceholderImage, c.Image)
}

func TestMergeProduct_IncomingWins(t *testing.T) {
	existing := Product{ID: "p1", Title: "Old", Description: "keep me", Price: 100, Image: "/old.jpg"}
	incoming := Product{ID: "p1", Title: "New", Price: 150, Image: PlaceholderImage}

	merged := MergeProduct(existing, incoming)
	assert.Equal(t, "New", merged.Title)
	assert.Equal(t, 150.0, merged.Price)
	assert.Equal(t, "keep me", merged.Description)
	assert.Equal(t, "/old.jpg", merged.Image, "placeholder must not overwrite a real image")
}

func TestMergeProduct_ExplicitZeroValuesWin(t *testing.T) {
	existing := Product{ID: "p2", Title: "Leather belt", Description: "Brown", Price: 5000, Image: "/img/belt.png"}

	var incoming Product
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"p2","price":0,"description":""}`), &incoming))

	merged := MergeProduct(existing, incoming)
	assert.Equal(t, 0.0, merged.Price)
	assert.Equal(t, "", merged.Description)
	assert.Equal(t, "Leather belt", merged.Title, "absent fields are kept")
	assert.Equal(t, "/img/belt.png", merged.Image)
}

func TestMergeProduct_CategoryObjectSetsName(t *testing.T) {
	existing := Product{ID: "p1", CategoryID: "c1", CategoryName: "Men"}

	var byID Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":"p1","category":"c2"}`), &byID))
	merged := MergeProduct(existing, byID)
	assert.Equal(t, "c2", merged.CategoryID)
	assert.Equal(t, "Men", merged.CategoryName)

	var byObject Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":"p1","category":{"_id":"c3","name":"Women"}}`), &byObject))
	merged = MergeProduct(existing, byObject)
	assert.Equal(t, "c3", merged.CategoryID)
	assert.Equal(t, "Women", merged.CategoryName)
}

func TestMergeCategory_ExplicitEmptyNameWins(t *testing.T) {
	existing := Category{ID: "c1", Name: "Shoes", Image: "/img/shoes.png"}

	var incoming Category
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"c1","name":""}`), &incoming))

	merged := MergeCategory(existing, incoming)
	assert.Equal(t, "", merged.Name)
	assert.Equal(t, "/img/shoes.png", merged.Image)

	merged = MergeCategory(existing, Category{ID: "c1", Image: "/img/new.png"})
	assert.Equal(t, "Shoes", merged.Name)
	assert.Equal(t, "/img/new.png", merged.Image)
}

func TestOrder_UnmarshalJSON(t *testing.T) {
	payload := `{
		"orderId": "ord-7",
		"user": {"_id": "u1", "name": "Amina", "email": "amina@example.com"},
		"items": [{"product": {"_id": "p1", "title": "Kanzu", "price": 45000}, "quantity": 2, "size": "L"}],
		"status": "Shipped",
		"totalAmount": 90000,
		"paymentMethod": "mobile_money"
	}`
	var o Order
	require.NoError(t, json.Unmarshal([]byte(payload), &o))

	assert.Equal(t, "ord-7", o.ID)
	assert.Equal(t, "u1", o.Customer.ID)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Equal(t, 90000.0, o.Total)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "p1", o.Items[0].ProductID)
	assert.Equal(t, 45000.0, o.Items[0].UnitPrice())
}

func TestOrderStatus_Step(t *testing.T) {
	assert.Equal(t, 0, StatusPending.Step())
	assert.Equal(t, 4, StatusDelivered.Step())
	assert.Equal(t, -1, StatusCancelled.Step())
	assert.Equal(t, -1, StatusRejected.Step())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusShipped.Terminal())

	st, err := ParseOrderStatus("Canceled")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st)

	_, err = ParseOrderStatus("lost")
	assert.Error(t, err)
}

func TestCartItem_Key(t *testing.T) {
	item := CartItem{ProductID: "p1", Size: "M"}
	assert.Equal(t, "p1:M", item.Key())
}

func TestUser_UnmarshalJSON_DefaultsActive(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"u1","role":"salesAgent","orderCount":3,"totalSpent":"120000"}`), &u))
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, RoleSalesAgent, u.Role)
	assert.True(t, u.IsActive)
	assert.Equal(t, 3, u.Stats.OrderCount)
	assert.Equal(t, 120000.0, u.Stats.TotalSpent)
}
