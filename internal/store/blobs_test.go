package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"filevault/internal/models"
)

func TestAcquireBlobCreatesThenIncrements(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	digest := testDigest("12")

	missing, err := st.GetBlob(ctx, testBlobKey(digest))
	if err != nil {
		t.Fatalf("get missing blob: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil blob, got %#v", missing)
	}

	first := mustAcquire(t, st, digest, 9)
	if first.RefCount != 1 || first.SizeBytes != 9 || first.Compression != string(models.CompressionNone) {
		t.Fatalf("unexpected first acquire: %#v", first)
	}
	second := mustAcquire(t, st, digest, 9)
	if second.RefCount != 2 {
		t.Fatalf("expected ref count 2, got %d", second.RefCount)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("created_at must not change on increment")
	}
}

func TestAcquireBlobReplacedUpdatesEncoding(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	digest := testDigest("34")
	mustAcquire(t, st, digest, 9)

	blob, err := st.AcquireBlob(ctx, models.Blob{
		Key: testBlobKey(digest), SHA256: digest, SizeBytes: 9, Compression: string(models.CompressionZstd),
	}, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if blob.Compression != string(models.CompressionNone) {
		t.Fatalf("compression must be kept when bytes were not rewritten, got %s", blob.Compression)
	}

	blob, err = st.AcquireBlob(ctx, models.Blob{
		Key: testBlobKey(digest), SHA256: digest, SizeBytes: 9, Compression: string(models.CompressionZstd),
	}, true)
	if err != nil {
		t.Fatalf("acquire replaced: %v", err)
	}
	if blob.Compression != string(models.CompressionZstd) || blob.RefCount != 3 {
		t.Fatalf("unexpected replaced acquire: %#v", blob)
	}
}

func TestConcurrentAcquireHasNoLostUpdates(t *testing.T) {
	st := testStore(t)
	digest := testDigest("56")
	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.AcquireBlob(context.Background(), models.Blob{
				Key: testBlobKey(digest), SHA256: digest, SizeBytes: 1,
			}, false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}

	blob, err := st.GetBlob(context.Background(), testBlobKey(digest))
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	if blob.RefCount != workers {
		t.Fatalf("expected ref count %d, got %d", workers, blob.RefCount)
	}
}

func TestReleaseBlobStopsAtZero(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	digest := testDigest("78")
	blob := mustAcquire(t, st, digest, 1)

	remaining, err := st.ReleaseBlob(ctx, blob.Key)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", remaining)
	}
	remaining, err = st.ReleaseBlob(ctx, blob.Key)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("count must not go negative, got %d", remaining)
	}

	if _, err := st.ReleaseBlob(ctx, testBlobKey(testDigest("9a"))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown blob, got %v", err)
	}
}

func TestDeleteBlobIfUnreferenced(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, st, "alice")
	blob := mustAcquire(t, st, testDigest("bc"), 4)

	deleted, err := st.DeleteBlobIfUnreferenced(ctx, blob.Key)
	if err != nil {
		t.Fatalf("delete referenced: %v", err)
	}
	if deleted != nil {
		t.Fatal("blob with references must not be deleted")
	}

	record := mustCreateRecord(t, st, alice.ID, "x", blob)
	// Force a count that disagrees with the record.
	if _, err := st.db.ExecContext(ctx, `UPDATE blobs SET ref_count = 0 WHERE blob_key = ?`, blob.Key); err != nil {
		t.Fatalf("force count: %v", err)
	}
	deleted, err = st.DeleteBlobIfUnreferenced(ctx, blob.Key)
	if err != nil {
		t.Fatalf("delete with record: %v", err)
	}
	if deleted != nil {
		t.Fatal("blob still named by a record must not be deleted")
	}

	if _, _, err := st.DeleteRecord(ctx, record.ID, alice.ID); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	deleted, err = st.DeleteBlobIfUnreferenced(ctx, blob.Key)
	if err != nil {
		t.Fatalf("delete unreferenced: %v", err)
	}
	if deleted == nil || deleted.Key != blob.Key || deleted.SizeBytes != 4 {
		t.Fatalf("unexpected deleted blob: %#v", deleted)
	}
	if again, err := st.GetBlob(ctx, blob.Key); err != nil || again != nil {
		t.Fatalf("expected blob row gone: %#v err=%v", again, err)
	}
}

func TestRefMismatchListingAndRepair(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, st, "alice")

	// Orphan: acquired, never recorded.
	orphan := mustAcquire(t, st, testDigest("d1"), 1)
	// Healthy: acquired and recorded.
	healthy := mustAcquire(t, st, testDigest("d2"), 1)
	mustCreateRecord(t, st, alice.ID, "ok", healthy)

	mismatches, err := st.ListBlobRefMismatches(ctx, "", 10)
	if err != nil {
		t.Fatalf("list mismatches: %v", err)
	}
	if len(mismatches) != 1 {
		t.Fatalf("expected 1 mismatch, got %#v", mismatches)
	}
	m := mismatches[0]
	if m.Key != orphan.Key || m.RefCount != 1 || m.Actual != 0 {
		t.Fatalf("unexpected mismatch: %#v", m)
	}

	repaired, err := st.RepairBlobRefCount(ctx, m.Key, m.RefCount+5)
	if err != nil {
		t.Fatalf("repair stale: %v", err)
	}
	if repaired {
		t.Fatal("repair with stale expected count must be a no-op")
	}

	repaired, err = st.RepairBlobRefCount(ctx, m.Key, m.RefCount)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !repaired {
		t.Fatal("expected repair to apply")
	}
	loaded, err := st.GetBlob(ctx, orphan.Key)
	if err != nil {
		t.Fatalf("get orphan: %v", err)
	}
	if loaded.RefCount != 0 {
		t.Fatalf("expected repaired count 0, got %d", loaded.RefCount)
	}

	loadedHealthy, err := st.GetBlob(ctx, healthy.Key)
	if err != nil {
		t.Fatalf("get healthy: %v", err)
	}
	if loadedHealthy.RefCount != 1 {
		t.Fatalf("healthy blob must keep count 1, got %d", loadedHealthy.RefCount)
	}
}

func TestListReclaimableBlobsPaging(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	for _, seed := range []string{"a1", "a2", "a3"} {
		blob := mustAcquire(t, st, testDigest(seed), 1)
		if _, err := st.ReleaseBlob(ctx, blob.Key); err != nil {
			t.Fatalf("release: %v", err)
		}
	}

	page, err := st.ListReclaimableBlobs(ctx, "", 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2, got %d", len(page))
	}
	rest, err := st.ListReclaimableBlobs(ctx, page[1].Key, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(rest) != 1 || rest[0].Key <= page[1].Key {
		t.Fatalf("unexpected second page: %#v", rest)
	}
}
