//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestTestDB_Connection(t *testing.T) {
	testDB := GetTestDB(t)

	var one int
	if err := testDB.Pool.QueryRow(context.Background(), "SELECT 1").Scan(&one); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if one != 1 {
		t.Errorf("expected 1, got %d", one)
	}
}

func TestTestDB_Exec(t *testing.T) {
	testDB := GetTestDB(t)

	testDB.Exec(t, `
		DROP TABLE IF EXISTS helper_check;
		CREATE TABLE helper_check (id int);
		INSERT INTO helper_check VALUES (1), (2)`)
	t.Cleanup(func() { testDB.Exec(t, "DROP TABLE IF EXISTS helper_check") })

	var n int
	if err := testDB.Pool.QueryRow(context.Background(), "SELECT count(*) FROM helper_check").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
}
