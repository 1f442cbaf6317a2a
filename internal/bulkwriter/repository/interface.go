package repository

import (
	"table-bulkwriter/pkg/elasticsearch"
	"table-bulkwriter/pkg/httpclient"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

type RedisClient = *redis.Client
type DBClient = *gorm.DB
type MQClient = *kafka.Writer

// Repository holds the backend client of the configured store kind. Getters
// of other kinds return nil.
type Repository interface {
	Kind() string
	GetDynamo() *dynamodb.Client
	GetES() *elasticsearch.Client
	GetRDB() RedisClient
	GetMQ() MQClient
	GetNSQ() *nsq.Producer
	GetDB() DBClient
	GetHTTP() *httpclient.HTTPClient
	Close() error
}
