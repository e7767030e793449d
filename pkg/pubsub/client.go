// Package pubsub wraps the Pub/Sub v2 client used by the outbox publisher.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/materialflow/pkg/config"
	"github.com/angelmondragon/materialflow/pkg/logger"
)

const (
	collectionTopics        = "topics"
	collectionSubscriptions = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub topic names are required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient connects to Pub/Sub and refuses to start unless the lifecycle and
// approvals topics exist, plus the approvals subscription when one is named.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: raw, projectID: projectID, cfg: cfg}
	if err := c.verify(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", topicNames(cfg)), "pubsub client ready")
	}
	return c, nil
}

// verify checks every configured resource exists. Ping reuses it so readiness
// fails when a topic is deleted under a running publisher.
func (c *Client) verify(ctx context.Context) error {
	topics := topicNames(c.cfg)
	if len(topics) == 0 {
		return errNoTopics
	}
	for _, topic := range topics {
		if err := c.exists(ctx, collectionTopics, topic); err != nil {
			return err
		}
	}
	if sub := strings.TrimSpace(c.cfg.ApprovalsSubscription); sub != "" {
		return c.exists(ctx, collectionSubscriptions, sub)
	}
	return nil
}

func (c *Client) exists(ctx context.Context, collection, name string) error {
	path := c.resourcePath(collection, name)
	if path == "" {
		return fmt.Errorf("%s %q not configured", collection, name)
	}

	var err error
	if collection == collectionTopics {
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: path})
	} else {
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: path})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s does not exist", path)
	default:
		return fmt.Errorf("checking %s: %w", path, err)
	}
}

// topicNames returns the distinct, trimmed topic names in config order.
func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, raw := range []string{cfg.LifecycleTopic, cfg.ApprovalsTopic} {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		dup := false
		for _, seen := range names {
			dup = dup || seen == name
		}
		if !dup {
			names = append(names, name)
		}
	}
	return names
}

// Publisher returns a handle for topic, given as an ID or full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	path := c.topicResourceName(topic)
	if path == "" {
		return nil
	}
	return c.client.Publisher(path)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) topicResourceName(name string) string {
	return c.resourcePath(collectionTopics, name)
}

func (c *Client) subscriptionResourceName(name string) string {
	return c.resourcePath(collectionSubscriptions, name)
}

// resourcePath expands an ID to projects/<project>/<collection>/<id>; names
// that are already full resource paths pass through.
func (c *Client) resourcePath(collection, name string) string {
	name = strings.TrimSpace(name)
	if c == nil || name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+collection+"/") {
		return name
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + collection + "/" + name
}
