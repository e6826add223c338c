package bucketing

import (
	"testing"
	"time"

	"riskauth-service/internal/config"
)

func testManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{
			UserBuckets:  64,
			EventBuckets: 16,
		},
	})
}

func TestBucketsAreDeterministic(t *testing.T) {
	bm := testManager()

	for _, key := range []string{"P-U0001", "P-U0042", "a@x.com"} {
		first := bm.UserBucket(key)
		for i := 0; i < 5; i++ {
			if got := bm.UserBucket(key); got != first {
				t.Fatalf("UserBucket(%q) unstable: %d vs %d", key, got, first)
			}
		}
	}
}

func TestBucketsStayInRange(t *testing.T) {
	bm := testManager()

	keys := []string{"", "P-U0001", "P-U12345", "some-long-identifier"}
	for _, key := range keys {
		if b := bm.UserBucket(key); b < 0 || b >= 64 {
			t.Errorf("UserBucket(%q) = %d, out of range", key, b)
		}
		if b := bm.EventBucket(key); b < 0 || b >= 16 {
			t.Errorf("EventBucket(%q) = %d, out of range", key, b)
		}
	}
}

func TestDateBucketFormat(t *testing.T) {
	bm := testManager()

	ts := time.Date(2025, time.March, 9, 15, 4, 5, 0, time.UTC)
	if got := bm.DateBucket(ts); got != "2025-03-09" {
		t.Errorf("DateBucket = %q, want 2025-03-09", got)
	}
}
