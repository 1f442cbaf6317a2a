package store

import (
	"fmt"
	"time"

	"table-bulkwriter/internal/bulkwriter/config"
	"table-bulkwriter/internal/bulkwriter/repository"
	"table-bulkwriter/internal/bulkwriter/writer"

	"go.uber.org/zap"
)

// New builds the store selected by cfg.Store.Kind on top of the client the
// repository connected for it.
func New[T any](cfg config.Config, repo repository.Repository, key writer.KeyFunc[T], tl *zap.Logger) (writer.Store[T], error) {
	tl = tl.With(zap.String("store", cfg.Store.Kind))
	switch cfg.Store.Kind {
	case config.KindDynamoDB:
		if repo.GetDynamo() == nil {
			return nil, errNoClient(cfg.Store.Kind)
		}
		return NewDynamoStore[T](repo.GetDynamo(), cfg.DynamoDB.Table, tl), nil

	case config.KindElasticsearch:
		if repo.GetES() == nil {
			return nil, errNoClient(cfg.Store.Kind)
		}
		return NewESStore(repo.GetES(), tl, cfg.Elasticsearch.Index, key, cfg.Elasticsearch.BatchSize), nil

	case config.KindRedis:
		if repo.GetRDB() == nil {
			return nil, errNoClient(cfg.Store.Kind)
		}
		ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
		return NewRedisStore(repo.GetRDB(), tl, cfg.Redis.KeyPrefix, ttl, key, cfg.Redis.BatchSize), nil

	case config.KindKafka:
		if repo.GetMQ() == nil {
			return nil, errNoClient(cfg.Store.Kind)
		}
		return NewKafkaStore(repo.GetMQ(), tl, key, cfg.Kafka.BatchSize), nil

	case config.KindNSQ:
		if repo.GetNSQ() == nil {
			return nil, errNoClient(cfg.Store.Kind)
		}
		return NewNSQStore(repo.GetNSQ(), tl, cfg.NSQ.Topic, key, cfg.NSQ.BatchSize), nil

	case config.KindPostgres, config.KindMySQL:
		if repo.GetDB() == nil {
			return nil, errNoClient(cfg.Store.Kind)
		}
		return NewDBStore(repo.GetDB(), tl, cfg.Database.Table, key, cfg.Database.BatchSize), nil

	case config.KindHTTP:
		if repo.GetHTTP() == nil {
			return nil, errNoClient(cfg.Store.Kind)
		}
		return NewHTTPStore[T](repo.GetHTTP(), tl, cfg.HTTP.URL, cfg.HTTP.BatchSize), nil
	}
	return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
}

func errNoClient(kind string) error {
	return fmt.Errorf("repository has no %s client", kind)
}
