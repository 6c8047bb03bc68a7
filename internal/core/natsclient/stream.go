package natsclient

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamAssetTasks is the durable stream carrying per-asset
	// sanitization tasks from the API tier to the worker tier.
	StreamAssetTasks = "ASSET_TASKS"
	// SubjectAssetTasks is the wildcard subject hierarchy for asset tasks.
	// Individual tasks are published to assets.<run_id>.<asset_id>.
	SubjectAssetTasks = "assets.>"

	// BucketRunControl is the KV bucket holding run cancellation tombstones.
	// Workers consult it at stage boundaries; a present key means the run
	// was cancelled and in-flight work must stop.
	BucketRunControl = "RUN_CONTROL"
)

// SubjectAssetTask builds the concrete subject for one task. Text tasks use
// the literal "text" token in place of an asset id.
func SubjectAssetTask(runID, assetID string) string {
	if assetID == "" {
		assetID = "text"
	}
	return fmt.Sprintf("assets.%s.%s", runID, assetID)
}

// ProvisionStreams idempotently creates the required JetStream streams.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamAssetTasks)
	if err == nil {
		c.Log.Info("NATS stream exists", zap.String("stream", StreamAssetTasks))
		return nil
	}

	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to check stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamAssetTasks,
		Subjects:  []string{SubjectAssetTasks},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	}

	_, err = c.JS.AddStream(cfg)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned", zap.String("stream", StreamAssetTasks))
	return nil
}

// ProvisionRunControl idempotently creates the RUN_CONTROL KV bucket and
// returns a handle to it. Tombstones are durable so that workers picking up
// redelivered tasks after a restart still observe the cancellation.
func (c *Client) ProvisionRunControl() (nats.KeyValue, error) {
	kv, err := c.JS.KeyValue(BucketRunControl)
	if err == nil {
		return kv, nil
	}
	if err != nats.ErrBucketNotFound {
		return nil, fmt.Errorf("failed to look up KV bucket: %w", err)
	}

	kv, err = c.JS.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  BucketRunControl,
		Storage: nats.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}

	c.Log.Info("NATS KV bucket provisioned", zap.String("bucket", BucketRunControl))
	return kv, nil
}
