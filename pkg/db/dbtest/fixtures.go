package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumenpay/settlement-backend/pkg/db/models"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/types"
)

// MerchantKey is the destination account used by seeded checkouts.
const MerchantKey = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

// CustomerWallet is the wallet address of seeded customers.
const CustomerWallet = "GCFXHS4GXL6BVUCXBWXGTITROWLVYXQKQLF4YH5O5JT3YZXCYPAFBJZB"

// Create inserts the rows or fails the test.
func Create(t *testing.T, db *gorm.DB, rows ...any) {
	t.Helper()
	for _, row := range rows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed %T: %v", row, err)
		}
	}
}

// Organization seeds an organization with the default quota.
func Organization(t *testing.T, db *gorm.DB) models.Organization {
	t.Helper()
	org := models.Organization{Name: "acme"}
	Create(t, db, &org)
	return org
}

// Product seeds a product priced at 10 XLM.
func Product(t *testing.T, db *gorm.DB, orgID uuid.UUID, productType enums.ProductType) models.Product {
	t.Helper()
	product := models.Product{
		OrganizationID: orgID,
		Environment:    enums.NetworkTestnet,
		Name:           "pro plan",
		Type:           productType,
		PriceAmount:    100_000_000,
		AssetCode:      "XLM",
	}
	Create(t, db, &product)
	return product
}

// Customer seeds a customer holding CustomerWallet.
func Customer(t *testing.T, db *gorm.DB, orgID uuid.UUID) models.Customer {
	t.Helper()
	wallet := CustomerWallet
	customer := models.Customer{
		OrganizationID: orgID,
		Environment:    enums.NetworkTestnet,
		WalletAddress:  &wallet,
	}
	Create(t, db, &customer)
	return customer
}

// Checkout seeds an open checkout for product; mutate runs before insert.
func Checkout(t *testing.T, db *gorm.DB, product models.Product, mutate ...func(*models.Checkout)) models.Checkout {
	t.Helper()
	productID := product.ID
	checkout := models.Checkout{
		OrganizationID:     product.OrganizationID,
		Environment:        product.Environment,
		Status:             enums.CheckoutStatusOpen,
		ProductID:          &productID,
		AssetCode:          product.AssetCode,
		ExpiresAt:          time.Now().UTC().Add(time.Hour),
		MerchantPublicKey:  MerchantKey,
		InitialPagingToken: "1000",
	}
	if product.IsSubscription() {
		start := time.Now().UTC().Truncate(time.Second)
		checkout.SubscriptionData = &types.SubscriptionData{PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0)}
	}
	for _, fn := range mutate {
		fn(&checkout)
	}
	Create(t, db, &checkout)
	return checkout
}

// Subscription seeds an active subscription whose period ended at periodEnd.
func Subscription(t *testing.T, db *gorm.DB, customer models.Customer, product models.Product, periodEnd time.Time) models.Subscription {
	t.Helper()
	sub := models.Subscription{
		OrganizationID:     product.OrganizationID,
		Environment:        product.Environment,
		CustomerID:         customer.ID,
		ProductID:          product.ID,
		Status:             enums.SubscriptionStatusActive,
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:   periodEnd,
	}
	Create(t, db, &sub)
	return sub
}
