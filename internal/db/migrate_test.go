package db

import "testing"

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/esteira?sslmode=disable", "pgx5://u:p@localhost:5432/esteira?sslmode=disable"},
		{"postgresql://u@db/esteira", "pgx5://u@db/esteira"},
		{"pgx5://u@db/esteira", "pgx5://u@db/esteira"},
	}
	for _, tc := range tests {
		if got := MigrateURL(tc.in); got != tc.want {
			t.Fatalf("MigrateURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 || len(entries)%2 != 0 {
		t.Fatalf("expected up/down pairs, got %d files", len(entries))
	}
}
