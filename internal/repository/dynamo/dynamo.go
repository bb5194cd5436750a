package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/HrishikShaji/mqtt-dashboard/internal/config"
	"github.com/HrishikShaji/mqtt-dashboard/internal/domain"
	"github.com/HrishikShaji/mqtt-dashboard/internal/metrics"
	"github.com/HrishikShaji/mqtt-dashboard/pkg/utils"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"go.uber.org/zap"
)

// item строка таблицы: topic - partition key, sk - sort key вида
// "<unix ms, 13 цифр>#<id>". id делает ключ уникальным внутри одной миллисекунды,
// а выравнивание нулями сохраняет порядок по времени при сравнении строк.
type item struct {
	Topic     string `dynamodbav:"topic"`
	SortKey   string `dynamodbav:"sk"`
	ID        string `dynamodbav:"id"`
	Payload   string `dynamodbav:"payload"`
	Timestamp string `dynamodbav:"timestamp"`
}

type DynamoRepository struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	poll   time.Duration
	logger *zap.Logger
}

func NewDynamoRepository(cfg config.DynamoConfig, logger *zap.Logger) (*DynamoRepository, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return NewWithClient(dynamodb.New(sess), cfg.Table, cfg.PollInterval, logger), nil
}

func NewWithClient(client dynamodbiface.DynamoDBAPI, table string, poll time.Duration, logger *zap.Logger) *DynamoRepository {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &DynamoRepository{
		client: client,
		table:  table,
		poll:   poll,
		logger: logger,
	}
}

func (r *DynamoRepository) SaveMessage(ctx context.Context, env *domain.Envelope) error {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("dynamo_save_message").Observe(time.Since(start).Seconds())
	}()

	id := env.ID
	if id == "" {
		id = utils.NewUUID().String()
	}

	av, err := dynamodbattribute.MarshalMap(item{
		Topic:     env.Topic,
		SortKey:   sortKey(env.Timestamp, id),
		ID:        id,
		Payload:   env.Payload,
		Timestamp: env.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := r.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// LastMessages возвращает последние limit записей топика по возрастанию времени
func (r *DynamoRepository) LastMessages(ctx context.Context, topic string, limit int) ([]*domain.Envelope, error) {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("dynamo_last_messages").Observe(time.Since(start).Seconds())
	}()

	output, err := r.client.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("#topic = :topic"),
		ExpressionAttributeNames: map[string]*string{
			"#topic": aws.String("topic"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":topic": {S: aws.String(topic)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int64(int64(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	var items []item
	if err := dynamodbattribute.UnmarshalListOfMaps(output.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}

	results := make([]*domain.Envelope, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		ts, err := time.Parse(time.RFC3339Nano, it.Timestamp)
		if err != nil {
			r.logger.Warn("Skipping item with invalid timestamp",
				zap.String("topic", it.Topic), zap.String("sk", it.SortKey), zap.Error(err))
			continue
		}
		results = append(results, &domain.Envelope{
			ID:        it.ID,
			Topic:     it.Topic,
			Payload:   it.Payload,
			Timestamp: ts,
		})
	}
	return results, nil
}

func sortKey(ts time.Time, id string) string {
	ms := ts.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%013d#%s", ms, id)
}

// latestKey возвращает sort key самой свежей записи топика или ""
func (r *DynamoRepository) latestKey(ctx context.Context, topic string) (string, error) {
	output, err := r.client.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("#topic = :topic"),
		ExpressionAttributeNames: map[string]*string{
			"#topic": aws.String("topic"),
			"#sk":    aws.String("sk"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":topic": {S: aws.String(topic)},
		},
		ProjectionExpression: aws.String("#sk"),
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int64(1),
	})
	if err != nil {
		return "", err
	}
	if len(output.Items) == 0 {
		return "", nil
	}
	av := output.Items[0]["sk"]
	if av == nil {
		return "", nil
	}
	return aws.StringValue(av.S), nil
}

// Watch опрашивает таблицу и отдаёт топики, у которых сменилась последняя запись.
// DynamoDB не умеет push без Streams, поэтому используется опрос.
func (r *DynamoRepository) Watch(ctx context.Context, topics []string) (<-chan string, error) {
	seen := make(map[string]string, len(topics))
	for _, t := range topics {
		key, err := r.latestKey(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to read latest key for %s: %w", t, err)
		}
		seen[t] = key
	}

	out := make(chan string, len(topics))
	go func() {
		defer close(out)

		ticker := time.NewTicker(r.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, t := range topics {
					key, err := r.latestKey(ctx, t)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						r.logger.Warn("Failed to poll topic", zap.String("topic", t), zap.Error(err))
						continue
					}
					if key == seen[t] {
						continue
					}
					seen[t] = key
					select {
					case out <- t:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func (r *DynamoRepository) HealthCheck(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues("dynamo_health_check").Observe(time.Since(start).Seconds())
	}()

	_, err := r.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.table),
	})
	return err
}

func (r *DynamoRepository) Close() {}
