package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func wrapPublisher(p *gcppubsub.Publisher) topicPublisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{pub: p}
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.pub.Publish(ctx, msg)
}
