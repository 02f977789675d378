package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/events"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/types"
)

// Config stream locations under every pod root
const (
	ownerStreamPath   = "/.config/owner"
	routingStreamPath = "/.config/routing"
	domainsStreamPath = "/.config/domains"

	ownerRecordName = "owner"
)

// CreatePod creates a pod and bootstraps its owner config stream. The
// creator becomes the owner via the first `.config/owner` record.
func (c *Catalog) CreatePod(ctx context.Context, name, creator string) (*types.Pod, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if !types.ValidatePodName(name) {
		return nil, errdefs.Newf(errdefs.CodeInvalidName, "invalid pod name: %s", name)
	}
	if creator == "" {
		return nil, errdefs.New(errdefs.CodeUnauthorized, "pod creation requires an authenticated caller")
	}

	now := time.Now()
	pod := &types.Pod{
		Name:      name,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreatePod(pod); err != nil {
		return nil, err
	}

	stream, err := c.GetOrCreateStream(ctx, name, ownerStreamPath, creator, types.AccessOwner)
	if err != nil {
		return nil, err
	}

	content, _ := json.Marshal(types.OwnerRecord{UserID: creator})
	if _, err := c.Append(ctx, stream, creator, AppendOptions{
		Name:        ownerRecordName,
		Content:     content,
		ContentType: "application/json",
	}); err != nil {
		return nil, err
	}

	c.cache.Invalidate(cache.PoolPods, name+":")
	c.publish(&events.Event{Type: events.EventPodCreated, Pod: name, UserID: creator})
	podLogger := log.WithPod(name)
	podLogger.Info().Str("creator", creator).Msg("pod created")

	return pod, nil
}

// GetPod returns a pod by name
func (c *Catalog) GetPod(ctx context.Context, name string) (*types.Pod, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	key := name + ":pod"
	if v, ok := c.cache.Get(cache.PoolPods, key); ok {
		metrics.CacheHitsTotal.WithLabelValues(string(cache.PoolPods)).Inc()
		return v.(*types.Pod), nil
	}
	metrics.CacheMissesTotal.WithLabelValues(string(cache.PoolPods)).Inc()

	pod, err := c.store.GetPod(name)
	if err != nil {
		return nil, err
	}
	c.cache.Set(cache.PoolPods, key, pod)
	return pod, nil
}

// Owner resolves the pod's current owner: the userId carried by the latest
// non-deleted `owner` record in `.config/owner`.
func (c *Catalog) Owner(ctx context.Context, pod string) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}

	key := pod + ":owner"
	if v, ok := c.cache.Get(cache.PoolPods, key); ok {
		metrics.CacheHitsTotal.WithLabelValues(string(cache.PoolPods)).Inc()
		return v.(string), nil
	}
	metrics.CacheMissesTotal.WithLabelValues(string(cache.PoolPods)).Inc()

	stream, err := c.store.GetStreamByPath(pod, ownerStreamPath)
	if err != nil {
		return "", err
	}
	record, err := c.GetRecordByName(ctx, stream, ownerRecordName, false)
	if err != nil {
		return "", err
	}

	var owner types.OwnerRecord
	if !parseJSONContent(record, &owner) || owner.UserID == "" {
		return "", errdefs.Newf(errdefs.CodeInternalError, "malformed owner record in pod %s", pod)
	}

	c.cache.Set(cache.PoolPods, key, owner.UserID)
	return owner.UserID, nil
}

// ListUserPods returns the pods currently owned by a user
func (c *Catalog) ListUserPods(ctx context.Context, userID string) ([]*types.Pod, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	pods, err := c.store.ListPods()
	if err != nil {
		return nil, err
	}

	var owned []*types.Pod
	for _, pod := range pods {
		owner, err := c.Owner(ctx, pod.Name)
		if err != nil {
			podLogger := log.WithPod(pod.Name)
			podLogger.Warn().Err(err).Msg("skipping pod with unresolvable owner")
			continue
		}
		if owner == userID {
			owned = append(owned, pod)
		}
	}
	return owned, nil
}

// DeletePod removes a pod with everything in it, including blobs. Only the
// current owner may do this.
func (c *Catalog) DeletePod(ctx context.Context, name, caller string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	owner, err := c.Owner(ctx, name)
	if err != nil {
		return err
	}
	if owner != caller {
		return errdefs.New(errdefs.CodeForbidden, "only the pod owner may delete the pod")
	}

	if err := c.store.DeletePod(name); err != nil {
		return err
	}
	if err := c.blobs.CleanupPod(name); err != nil {
		podLogger := log.WithPod(name)
		podLogger.Warn().Err(err).Msg("blob cleanup failed after pod delete")
	}

	c.invalidatePod(name)
	c.publish(&events.Event{Type: events.EventPodDeleted, Pod: name, UserID: caller})
	podLogger := log.WithPod(name)
	podLogger.Info().Msg("pod deleted")

	return nil
}

// invalidatePod drops every cached entry belonging to a pod
func (c *Catalog) invalidatePod(name string) {
	c.cache.Invalidate(cache.PoolPods, name+":")
	c.cache.Invalidate(cache.PoolPods, "host:")
	c.cache.Invalidate(cache.PoolStreams, name+":")
	c.cache.Invalidate(cache.PoolSingleRecords, name+"/")
	c.cache.Invalidate(cache.PoolRecordLists, name+"/")
	c.cache.Invalidate(cache.PoolRecordCounts, name+"/")
	c.cache.Invalidate(cache.PoolPermissions, name+"|")
}
