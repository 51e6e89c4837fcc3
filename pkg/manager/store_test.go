package manager

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/certhost/go-site-cert-manager/pkg/common"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), StoreFileName))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestStoreEmptyDocument(t *testing.T) {
	store := newTestStore(t)

	records, err := store.List()
	if err != nil {
		t.Fatalf("List on absent document failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty store, got %d records", len(records))
	}
}

func TestStoreUpsertReplacesById(t *testing.T) {
	store := newTestStore(t)

	original := common.ManagedCertificate{ID: "id-1", Name: "example.com cert"}
	if err := store.Upsert(original); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Same id, different content: must replace, not duplicate or merge.
	updated := common.ManagedCertificate{ID: "id-1", Name: "renamed cert", Comments: "updated"}
	if err := store.Upsert(updated); err != nil {
		t.Fatalf("Upsert (replace) failed: %v", err)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after replace, got %d", len(records))
	}
	if records[0].Name != "renamed cert" || records[0].Comments != "updated" {
		t.Errorf("replace did not take effect: %+v", records[0])
	}
}

func TestStoreUpsertRequiresID(t *testing.T) {
	store := newTestStore(t)
	err := store.Upsert(common.ManagedCertificate{Name: "no id"})
	if err == nil {
		t.Fatal("expected error for record without id")
	}
	appErr := common.GetApplicationError(err)
	if appErr == nil || !appErr.IsType(common.ErrorTypeStore) {
		t.Errorf("expected STORE error, got %v", err)
	}
}

func TestStoreGet(t *testing.T) {
	store := newTestStore(t)
	if err := store.Upsert(common.ManagedCertificate{ID: "id-1", Name: "one"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec, err := store.Get("id-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Name != "one" {
		t.Errorf("got wrong record: %+v", rec)
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestStoreDeleteAbsentIsNotError(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete("never-existed"); err != nil {
		t.Errorf("deleting absent record should not fail: %v", err)
	}
}

func TestStoreCorruptDocument(t *testing.T) {
	store := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(store.Path()), 0750); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(store.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, err := store.List()
	if !errors.Is(err, ErrStoreCorrupt) {
		t.Errorf("expected ErrStoreCorrupt, got %v", err)
	}
}

func TestStoreDirtyFlagResetOnLoad(t *testing.T) {
	store := newTestStore(t)
	record := common.ManagedCertificate{ID: "id-1", Name: "one", IsChanged: true}
	if err := store.Upsert(record); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	records, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if records[0].IsChanged {
		t.Error("IsChanged should be reset to false on load")
	}
}

func TestStoreWriteVisibleToOtherInstance(t *testing.T) {
	store := newTestStore(t)
	if err := store.Upsert(common.ManagedCertificate{ID: "id-1", Name: "one"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	other, err := NewStore(store.Path())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	records, err := other.List()
	if err != nil {
		t.Fatalf("List via second instance failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "id-1" {
		t.Errorf("write not visible to second store instance: %+v", records)
	}
}

func TestStoreWriteLeavesNoTemporaryFile(t *testing.T) {
	store := newTestStore(t)

	if err := store.Upsert(common.ManagedCertificate{ID: "rec-1", Name: "one"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// The document is written to a sibling and renamed into place.
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary store file must not remain after a write: %v", err)
	}
	records, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "rec-1" {
		t.Errorf("expected the written record, got %+v", records)
	}
}

func TestStoreFindByName(t *testing.T) {
	store := newTestStore(t)
	for _, rec := range []common.ManagedCertificate{
		{ID: "a", Name: "alpha"},
		{ID: "b", Name: "beta"},
		{ID: "c", Name: "alpha"},
	} {
		if err := store.Upsert(rec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	matches, err := store.FindByName("alpha")
	if err != nil {
		t.Fatalf("FindByName failed: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("expected 2 matches for duplicate name, got %d", len(matches))
	}

	matches, err = store.FindByName("ALPHA")
	if err != nil {
		t.Fatalf("FindByName failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("name matching must be exact, got %d matches", len(matches))
	}
}
