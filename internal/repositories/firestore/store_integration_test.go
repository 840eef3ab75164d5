//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	domain "github.com/salles-management/api/internal/domain"
	pconfig "github.com/salles-management/api/internal/platform/config"
	pfirestore "github.com/salles-management/api/internal/platform/firestore"
	"github.com/salles-management/api/internal/repositories"
	firestorerepo "github.com/salles-management/api/internal/repositories/firestore"
)

func newEmulatorStore(t *testing.T) *firestorerepo.Store {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	// A fresh project id isolates each test's documents on the shared emulator.
	project := fmt.Sprintf("sales-%d", time.Now().UnixNano())
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: host})
	store, err := firestorerepo.New(provider)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})
	return store
}

func TestStoreAdjustStockRefusesOversell(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()

	if err := store.PutProduct(ctx, domain.Product{ID: "prod_a", Title: "Argan oil", Price: 1000, Stock: 2}); err != nil {
		t.Fatalf("put product: %v", err)
	}

	level, err := store.Inventory().AdjustStock(ctx, "prod_a", -2)
	if err != nil || level != 0 {
		t.Fatalf("expected level 0, got %d (%v)", level, err)
	}

	_, err = store.Inventory().AdjustStock(ctx, "prod_a", -1)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock || invErr.Available != 0 {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if _, err := store.Inventory().AdjustStock(ctx, "prod_missing", 1); !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorStockNotFound {
		t.Fatalf("expected stock not found, got %v", err)
	}
}

func TestStoreRollsBackReservationsOnError(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()

	_ = store.PutProduct(ctx, domain.Product{ID: "prod_a", Title: "Argan oil", Price: 1000, Stock: 5})
	_ = store.PutProduct(ctx, domain.Product{ID: "prod_b", Title: "Rug", Price: 2000, Stock: 0})

	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := store.Inventory().AdjustStock(txCtx, "prod_a", -2); err != nil {
			return err
		}
		_, err := store.Inventory().AdjustStock(txCtx, "prod_b", -1)
		return err
	})
	if err == nil {
		t.Fatalf("expected insufficient stock")
	}

	level, err := store.Inventory().StockLevel(ctx, "prod_a")
	if err != nil || level != 5 {
		t.Fatalf("expected untouched stock 5, got %d (%v)", level, err)
	}
}

func TestStoreOrdersByPickupCodeAndLine(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	order := domain.Order{
		ID:         "ord_01",
		SaleType:   domain.SaleTypeOnline,
		Status:     domain.OrderStatusCreated,
		CustomerID: "cust_amina",
		Lines:      []domain.OrderLine{domain.NewOrderLine("ln_1", "prod_a", "Argan oil", 2, 1000)},
		Total:      2000,
		PickupCode: "AB12CD34",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	found, err := store.Orders().FindByPickupCode(ctx, "AB12CD34")
	if err != nil || found.ID != "ord_01" {
		t.Fatalf("find by pickup code: %+v (%v)", found, err)
	}
	byLine, err := store.Orders().FindByLineID(ctx, "ln_1")
	if err != nil || byLine.ID != "ord_01" {
		t.Fatalf("find by line: %+v (%v)", byLine, err)
	}

	duplicate := order
	duplicate.ID = "ord_02"
	err = store.Orders().Insert(ctx, duplicate)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected pickup code conflict, got %v", err)
	}

	if err := store.Orders().Update(ctx, domain.Order{ID: "ord_missing"}); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreListPaginatesNewestFirst(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		order := domain.Order{
			ID:        fmt.Sprintf("ord_%02d", i),
			SaleType:  domain.SaleTypeInStore,
			Status:    domain.OrderStatusCompleted,
			ActorID:   "vnd_karim",
			Lines:     []domain.OrderLine{domain.NewOrderLine(fmt.Sprintf("ln_%d", i), "prod_a", "Argan oil", 1, 1000)},
			Total:     1000,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	filter := repositories.OrderListFilter{ActorID: "vnd_karim", Pagination: domain.Pagination{PageSize: 2}}
	first, err := store.Orders().List(ctx, filter)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "ord_03" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}

	filter.Pagination.PageToken = first.NextPageToken
	second, err := store.Orders().List(ctx, filter)
	if err != nil {
		t.Fatalf("list second: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "ord_01" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}
}

func TestStoreLoyaltyClampsAtZero(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()

	account, err := store.Loyalty().Balance(ctx, "cust_amina")
	if err != nil || account.Points != 0 {
		t.Fatalf("expected empty balance, got %+v (%v)", account, err)
	}
	if _, err := store.Loyalty().Adjust(ctx, "cust_amina", 40); err != nil {
		t.Fatalf("credit: %v", err)
	}
	account, err = store.Loyalty().Adjust(ctx, "cust_amina", -100)
	if err != nil || account.Points != 0 {
		t.Fatalf("expected clamp to zero, got %+v (%v)", account, err)
	}
}
