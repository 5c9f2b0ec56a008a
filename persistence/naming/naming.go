// Package naming generates the blob and container names every other
// persistence package treats as opaque (spec §6, "Blob layout per
// topic container"). No package outside naming concatenates these
// strings directly.
package naming

import (
	"fmt"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
)

// SnapshotContainer is the single, cluster-wide container holding the
// topics snapshot blob, separate from any per-topic container.
const SnapshotContainer = "topics-snapshot"

// SnapshotBlobName is the one blob inside SnapshotContainer.
const SnapshotBlobName = "topics_snapshot"

// TopicContainer returns the container name a topic's pages, clusters
// and yearly indexes live in.
func TopicContainer(topicId model.TopicId) string {
	return fmt.Sprintf("topic-%s", topicId)
}

// UncompressedPageBlobName names an uncompressed page blob.
func UncompressedPageBlobName(pageId model.PageId) string {
	return fmt.Sprintf("uncompressed_%d", pageId)
}

// CompressedClusterBlobName names a compressed cluster blob.
func CompressedClusterBlobName(clusterId model.ClusterId) string {
	return fmt.Sprintf("compressed_%d", clusterId)
}

// YearlyIndexBlobName names an index-by-minute blob for one year.
func YearlyIndexBlobName(year int) string {
	return fmt.Sprintf("yearly_index_%d", year)
}
