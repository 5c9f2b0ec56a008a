package naming

import "testing"

func TestBlobNamesMatchLayout(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{UncompressedPageBlobName(7), "uncompressed_7"},
		{CompressedClusterBlobName(3), "compressed_3"},
		{YearlyIndexBlobName(2026), "yearly_index_2026"},
		{SnapshotBlobName, "topics_snapshot"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Fatalf("got %q want %q", c.got, c.want)
		}
	}
}

func TestTopicContainerIsStableAndDistinct(t *testing.T) {
	a := TopicContainer("orders")
	b := TopicContainer("payments")
	if a == b {
		t.Fatalf("expected distinct containers, got %q for both", a)
	}
	if TopicContainer("orders") != a {
		t.Fatalf("expected stable container name across calls")
	}
}
