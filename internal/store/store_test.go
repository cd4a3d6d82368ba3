package store

import (
	"bytes"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	db := testDB(t)

	got, err := db.GetIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("fresh db returned identity %+v, want nil", got)
	}

	want := &Identity{
		UserID:    "64f1",
		FullName:  "Pedro Cardoso",
		Username:  "pcardoso",
		AvatarURL: "https://cdn/avatar.png",
		Cookies:   []byte(`[{"name":"jwt","value":"abc"}]`),
	}
	if err := db.SaveIdentity(want); err != nil {
		t.Fatal(err)
	}

	got, err = db.GetIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("identity missing after save")
	}
	if got.UserID != want.UserID || got.Username != want.Username || got.FullName != want.FullName {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Cookies, want.Cookies) {
		t.Errorf("cookies = %q, want %q", got.Cookies, want.Cookies)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestIdentitySaveReplacesSingleRow(t *testing.T) {
	db := testDB(t)

	if err := db.SaveIdentity(&Identity{UserID: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveIdentity(&Identity{UserID: "second"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "second" {
		t.Errorf("user_id = %q, want second", got.UserID)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM identity`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("identity rows = %d, want 1", count)
	}
}

func TestIdentityDelete(t *testing.T) {
	db := testDB(t)

	if err := db.SaveIdentity(&Identity{UserID: "64f1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteIdentity(); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("identity = %+v after delete, want nil", got)
	}

	// Deleting again is harmless.
	if err := db.DeleteIdentity(); err != nil {
		t.Fatal(err)
	}
}
