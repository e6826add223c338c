package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riskauth-service/internal/client"
	"riskauth-service/internal/config"
	"riskauth-service/internal/model"
	"riskauth-service/internal/util"
)

// FeaturePublisher fans a sunk feature vector out to Kafka and
// Elasticsearch for downstream consumers. Publication is best-effort and
// runs after the durable sink; the login response never waits on a broker.
type FeaturePublisher struct {
	producer *client.KafkaProducer
	es       *client.ESClient
	topic    string
	index    string
}

var _ model.FeaturePublisher = (*FeaturePublisher)(nil)

func NewFeaturePublisher(producer *client.KafkaProducer, es *client.ESClient, cfg *config.Config) *FeaturePublisher {
	return &FeaturePublisher{
		producer: producer,
		es:       es,
		topic:    cfg.Kafka.FeaturesTopic,
		index:    cfg.Elasticsearch.FeaturesIndex,
	}
}

// Publish sends the vector to both destinations in parallel. Either failure
// is reported but the caller is expected to log, not abort.
func (p *FeaturePublisher) Publish(ctx context.Context, fv *model.FeatureVector) error {
	payload, err := json.Marshal(fv)
	if err != nil {
		return fmt.Errorf("failed to marshal feature vector: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if p.producer != nil {
		g.Go(func() error {
			headers := map[string]string{
				"user_id":    fv.UserID,
				"session_id": fv.SessionID,
			}
			if err := p.producer.ProduceMessage(gctx, p.topic, []byte(fv.UserID), payload, headers); err != nil {
				return fmt.Errorf("kafka publish failed: %w", err)
			}
			return nil
		})
	}

	if p.es != nil {
		g.Go(func() error {
			docID := fmt.Sprintf("%s-%d", fv.SessionID, fv.CalculatedAt.UnixMilli())
			if err := p.es.IndexDocument(gctx, p.index, docID, fv); err != nil {
				return fmt.Errorf("elasticsearch index failed: %w", err)
			}
			return nil
		})
	}

	started := time.Now()
	if err := g.Wait(); err != nil {
		return err
	}

	util.Debug("Feature vector published",
		zap.String("user_id", fv.UserID),
		zap.String("topic", p.topic),
		zap.String("index", p.index),
		zap.Duration("elapsed", time.Since(started)))

	return nil
}
