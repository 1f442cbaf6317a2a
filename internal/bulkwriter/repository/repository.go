package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"table-bulkwriter/internal/bulkwriter/config"
	"table-bulkwriter/pkg/database"
	"table-bulkwriter/pkg/dynamo"
	"table-bulkwriter/pkg/elasticsearch"
	"table-bulkwriter/pkg/httpclient"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// New connects the client for cfg.Store.Kind only.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (Repository, error) {
	r := &repositoryImpl{
		kind:   cfg.Store.Kind,
		cfg:    cfg,
		logger: logger,
	}
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("init %s client: %w", r.kind, err)
	}
	return r, nil
}

type repositoryImpl struct {
	kind   string
	cfg    config.Config
	logger *zap.Logger
	dynamo *dynamodb.Client
	es     *elasticsearch.Client
	rdb    *redis.Client
	mq     *kafka.Writer
	nsq    *nsq.Producer
	db     *gorm.DB
	http   *httpclient.HTTPClient
}

func (r *repositoryImpl) init(ctx context.Context) error {
	var err error
	switch r.kind {
	case config.KindDynamoDB:
		r.dynamo, err = dynamo.NewClient(ctx, dynamo.Config{
			Region:   r.cfg.DynamoDB.Region,
			Profile:  r.cfg.DynamoDB.Profile,
			Endpoint: r.cfg.DynamoDB.Endpoint,
		})

	case config.KindElasticsearch:
		r.es, err = elasticsearch.NewClient(elasticsearch.Config{
			Addresses: r.cfg.Elasticsearch.Addresses,
			Username:  r.cfg.Elasticsearch.Username,
			Password:  r.cfg.Elasticsearch.Password,
		}, r.logger)

	case config.KindRedis:
		r.rdb = redis.NewClient(&redis.Options{
			Addr:     r.cfg.Redis.Address,
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DB,
			PoolSize: 20,
		})
		if pingErr := r.rdb.Ping(ctx).Err(); pingErr != nil {
			r.logger.Warn("failed to connect to redis, continue", zap.Error(pingErr))
		}

	case config.KindKafka:
		brokers := strings.Split(r.cfg.Kafka.Brokers, ",")
		r.mq = &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    r.cfg.Kafka.Topic,
			Balancer: &kafka.Hash{},
			// 同步写入才能拿到逐条的 WriteErrors
			Async:        false,
			RequiredAcks: kafka.RequireAll,
			BatchSize:    max(r.cfg.Kafka.BatchSize, 1),
			BatchBytes:   1024 * 1024, // 1MB
			BatchTimeout: 10 * time.Millisecond,
			Compression:  kafka.Snappy,
			MaxAttempts:  1,
			WriteTimeout: 5 * time.Second,
		}

	case config.KindNSQ:
		// 连接在首次发布时建立
		r.nsq, err = nsq.NewProducer(r.cfg.NSQ.Address, nsq.NewConfig())
		if err == nil {
			r.nsq.SetLogger(zap.NewStdLog(r.logger), nsq.LogLevelWarning)
		}

	case config.KindPostgres:
		r.db, err = database.InitPG(r.cfg.Database.DSN)

	case config.KindMySQL:
		r.db, err = database.InitMySQL(r.cfg.Database.DSN)

	case config.KindHTTP:
		r.http = httpclient.NewHTTPClient(httpclient.HTTPClientConfig{
			Timeout:    time.Duration(r.cfg.HTTP.Timeout) * time.Second,
			RateLimit:  r.cfg.HTTP.RateLimit,
			MaxRetries: r.cfg.HTTP.MaxRetries,
			UserAgent:  "table-bulkwriter",
			XApiKey:    r.cfg.HTTP.APIKey,
		}, r.logger)

	default:
		err = fmt.Errorf("unknown store kind %q", r.kind)
	}
	return err
}

func (r *repositoryImpl) Kind() string {
	return r.kind
}

func (r *repositoryImpl) GetDynamo() *dynamodb.Client {
	return r.dynamo
}

func (r *repositoryImpl) GetES() *elasticsearch.Client {
	return r.es
}

func (r *repositoryImpl) GetRDB() RedisClient {
	return r.rdb
}

func (r *repositoryImpl) GetMQ() MQClient {
	return r.mq
}

func (r *repositoryImpl) GetNSQ() *nsq.Producer {
	return r.nsq
}

func (r *repositoryImpl) GetDB() DBClient {
	return r.db
}

func (r *repositoryImpl) GetHTTP() *httpclient.HTTPClient {
	return r.http
}

func (r *repositoryImpl) Close() error {
	var errs []error
	if r.es != nil {
		errs = append(errs, r.es.Close())
	}
	if r.rdb != nil {
		errs = append(errs, r.rdb.Close())
	}
	if r.mq != nil {
		errs = append(errs, r.mq.Close())
	}
	if r.nsq != nil {
		r.nsq.Stop()
	}
	if r.db != nil {
		if sqlDB, err := r.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if r.http != nil {
		errs = append(errs, r.http.Close())
	}
	return errors.Join(errs...)
}
