package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"CoralPlay/config"
	"CoralPlay/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AudioStore 基于 MinIO 的音频对象缓存。
// 拉取过的曲目按 trackID/quality 存一份，重复加载不再触网。
type AudioStore struct {
	client *minio.Client
	bucket string
}

// NewAudioStore 连接 MinIO 并确保存储桶存在
func NewAudioStore(cfg *config.Config) (*AudioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("创建音频缓存存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &AudioStore{client: client, bucket: cfg.MinioBucket}, nil
}

func contentType(format string) string {
	if format == "wav" {
		return "audio/wav"
	}
	return "audio/mpeg"
}

func formatOf(ct string) string {
	if ct == "audio/wav" {
		return "wav"
	}
	return "mp3"
}

// Get 读取缓存的音频数据，未命中返回 ok=false
func (s *AudioStore) Get(ctx context.Context, key string) (data []byte, format string, ok bool) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", false
	}
	defer obj.Close()

	data, err = io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			logger.Debug("读取音频缓存失败", logger.String("key", key), logger.ErrorField(err))
		}
		return nil, "", false
	}

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", false
	}

	logger.Debug("音频缓存命中", logger.String("key", key), logger.Int("bytes", len(data)))
	return data, formatOf(stat.ContentType), true
}

// Put 写入音频数据
func (s *AudioStore) Put(ctx context.Context, key string, data []byte, format string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType(format)})
	if err != nil {
		return fmt.Errorf("写入音频缓存失败: %w", err)
	}
	return nil
}
