package workflowevent

import "testing"

func TestNormalizeBucket(t *testing.T) {
	cases := []struct {
		status Status
		want   Bucket
	}{
		{StatusScheduled, BucketInProgress},
		{StatusRunning, BucketInProgress},
		{StatusInProgress, BucketInProgress},
		{StatusCompleted, BucketSucceeded},
		{StatusSucceeded, BucketSucceeded},
		{StatusFailed, BucketFailed},
		{StatusParked, BucketInProgress},
		{Status("SOMETHING_NEW"), BucketInProgress},
	}
	for _, c := range cases {
		if got := NormalizeBucket(c.status); got != c.want {
			t.Errorf("NormalizeBucket(%q) = %q, want %q", c.status, got, c.want)
		}
	}
}
