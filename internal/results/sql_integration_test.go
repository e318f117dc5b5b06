//go:build integration

package results

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/featmatch/internal/storage/mysql"
)

func setupMariaDB(t *testing.T) (*mysql.Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mariadb:11",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_ROOT_PASSWORD": "test",
			"MARIADB_DATABASE":      "featmatch",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("root:test@tcp(%s:%s)/featmatch", host, port.Port())
	var pool *mysql.Pool
	// the port opens before the server accepts logins
	for attempt := 0; attempt < 30; attempt++ {
		if pool, err = mysql.NewPool(dsn, 5, 2); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	return pool, func() {
		pool.Close()
		container.Terminate(ctx)
	}
}

func TestSQLStore_MySQL(t *testing.T) {
	pool, cleanup := setupMariaDB(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := NewSQLStore(pool.DB(), MySQL)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	key := mustKey(t, "a.jpg", "b.jpg", 100, 0.65)
	if err := store.Store(ctx, key, 21); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := store.Store(ctx, key, 22); err != nil {
		t.Fatalf("repeated Store: %v", err)
	}
	count, ok, err := store.Lookup(ctx, key)
	if err != nil || !ok || count != 21 {
		t.Errorf("Lookup = %d, %v, %v; want 21, true, nil", count, ok, err)
	}

	records, err := store.List(ctx, 5)
	if err != nil || len(records) != 1 || records[0].Key != key {
		t.Errorf("List = %v, %v", records, err)
	}
}
