package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

var (
	ErrProjectIDRequired = errors.New("gcp project id is required")
	ErrTopicRequired     = errors.New("pubsub notification topic is required")
)

// Client hands out one long-lived publisher per topic. Publishers are
// stopped, flushing anything buffered, when the client closes.
type Client struct {
	client     *pubsub.Client
	projectID  string
	topic      string
	batchDelay time.Duration

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient dials Pub/Sub and fails fast when the notification topic is
// missing, so a misconfigured relay never starts draining the outbox.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}
	topic := strings.TrimSpace(cfg.NotificationTopic)
	if topic == "" {
		return nil, ErrTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := newClient(psClient, projectID, topic, time.Duration(cfg.BatchDelayMS)*time.Millisecond)
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub client initialized")
	}
	return c, nil
}

func newClient(ps *pubsub.Client, projectID, topic string, batchDelay time.Duration) *Client {
	return &Client{
		client:     ps,
		projectID:  projectID,
		topic:      topic,
		batchDelay: batchDelay,
		publishers: map[string]*pubsub.Publisher{},
	}
}

// Publisher returns the cached publisher for a topic ID or full resource
// name, creating it on first use.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := topicResourceName(c.projectID, name)
	if fullName == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[fullName]; ok {
		return pub
	}
	pub := c.client.Publisher(fullName)
	if c.batchDelay > 0 {
		pub.PublishSettings.DelayThreshold = c.batchDelay
	}
	c.publishers[fullName] = pub
	return pub
}

// Ping checks the notification topic still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: topicResourceName(c.projectID, c.topic),
	})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.topic)
	default:
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/topics/" + n
}
